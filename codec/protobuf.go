package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes proto.Message values. Construct with NewProtobuf and a
// message constructor, e.g.
//
//	codec.NewProtobuf(func() *pb.Leaderboard { return &pb.Leaderboard{} })
//
// Note: proto.Marshal output is not guaranteed canonical across library
// versions; unchanged values usually fingerprint identically, but treat the
// version-bump elision as best-effort with this codec.
type Protobuf[T proto.Message] struct {
	new func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
