package grpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the registered codec name.  Clients select it with the
// "application/grpc+json" content subtype.
const Name = "json"

// jsonCodec marshals gRPC frames as JSON.  The gateway's message types are
// plain structs, so a schema compiler is not required on either side.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
