package codec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/docfeed/errors"
)

// Schema checks document bodies against a JSON Schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// LoadSchema compiles the JSON Schema stored at path.
func LoadSchema(path string) (*Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "LoadSchema", "resolve schema path")
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, errors.WrapInvalid(err, "codec", "LoadSchema", "read schema file")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + abs))
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "LoadSchema", "compile schema "+path)
	}
	return &Schema{schema: schema}, nil
}

// NewSchema compiles a JSON Schema held in memory.
func NewSchema(doc []byte) (*Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "NewSchema", "compile schema")
	}
	return &Schema{schema: schema}, nil
}

// Validate checks a JSON body. A nil Schema accepts everything.
func (s *Schema) Validate(body []byte) error {
	if s == nil {
		return nil
	}
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "codec", "Validate", err.Error())
	}
	if result.Valid() {
		return nil
	}

	var msg strings.Builder
	msg.WriteString("document does not match schema:")
	for _, desc := range result.Errors() {
		fmt.Fprintf(&msg, "\n  - %s: %s", desc.Field(), desc.Description())
	}
	return errors.WrapInvalid(errors.ErrInvalidData, "codec", "Validate", msg.String())
}
