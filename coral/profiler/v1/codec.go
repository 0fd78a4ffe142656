package profilerv1

import "fmt"

// Message is implemented by every type in this package.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// Codec is a connect.Codec for the messages of this package. It registers
// under the "proto" name so peers speaking gRPC or Connect with
// application/proto content interoperate with it.
type Codec struct{}

// Name implements connect.Codec.
func (Codec) Name() string {
	return "proto"
}

// Marshal implements connect.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("profilerv1: cannot marshal %T", v)
	}
	return m.Marshal()
}

// Unmarshal implements connect.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("profilerv1: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}
