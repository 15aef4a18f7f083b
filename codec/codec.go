// Package codec provides pluggable value (de)serialization for swrcache.
// The encoded bytes are what gets fingerprinted and stored, so a codec must
// be deterministic if identical values are expected to elide version bumps.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
