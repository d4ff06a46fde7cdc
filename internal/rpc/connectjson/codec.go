package connectjson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bufbuild/connect-go"
)

// Codec carries plain Go structs as JSON on Connect streams. Decoding is strict: a field the
// message type does not declare is an error, so a misspelled user_request fails the call.
type Codec struct{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

var _ connect.Codec = (*Codec)(nil)
