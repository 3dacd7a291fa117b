// Package codec converts document bodies between their stored encoding and the
// values the feeds decode. Documents are stored as JSON or CBOR; both decode into
// the same Go types, and RawJSON renders either as JSON for output.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/state"
)

// Encoding names a document body encoding.
type Encoding string

// Supported encodings.
const (
	JSON Encoding = "json"
	CBOR Encoding = "cbor"
)

var (
	// Maps decode with string keys so CBOR documents can be rendered as JSON.
	decMode, _ = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	encMode, _ = cbor.CoreDetEncOptions().EncMode()
)

// Parse returns the encoding named s. Empty means JSON.
func Parse(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", JSON:
		return JSON, nil
	case CBOR:
		return CBOR, nil
	default:
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "codec", "Parse",
			fmt.Sprintf("unknown encoding %q", s))
	}
}

// Decoder returns a state.Decoder for bodies stored in enc.
func Decoder[T any](enc Encoding) state.Decoder[T] {
	if enc == CBOR {
		return func(body []byte) (T, error) {
			var v T
			err := decMode.Unmarshal(body, &v)
			return v, err
		}
	}
	return state.JSON[T]()
}

// RawJSON returns a decoder yielding each body as JSON, transcoding CBOR.
func RawJSON(enc Encoding) state.Decoder[json.RawMessage] {
	if enc != CBOR {
		return state.JSON[json.RawMessage]()
	}
	decode := Decoder[any](CBOR)
	return func(body []byte) (json.RawMessage, error) {
		v, err := decode(body)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
}

// FromJSON converts a JSON body into enc for storage. The body must be valid
// JSON whatever the target encoding.
func FromJSON(enc Encoding, body []byte) ([]byte, error) {
	if !json.Valid(body) {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "codec", "FromJSON", "body is not JSON")
	}
	if enc != CBOR {
		return body, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errors.WrapInvalid(err, "codec", "FromJSON", "decode JSON body")
	}
	return encMode.Marshal(v)
}
