// Package codec encodes and decodes license records and repository models.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"
)

// Codec encodes values to and decodes values from byte streams
type Codec interface {
	Encode(w io.Writer, v interface{}) error
	Decode(r io.Reader, v interface{}) error
	ContentType() string
}

// JSON is the default codec
type JSON struct{}

// Encode writes v as JSON
func (JSON) Encode(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

// Decode reads JSON into v
func (JSON) Decode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// ContentType returns the media type
func (JSON) ContentType() string { return "application/json" }

// YAML is a schema-less text codec, convenient for archived keys
type YAML struct{}

// Encode writes v as YAML
func (YAML) Encode(w io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode reads YAML into v
func (YAML) Decode(r io.Reader, v interface{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// ContentType returns the media type
func (YAML) ContentType() string { return "application/yaml" }

// ByName returns the codec for a configuration name
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Marshal encodes v into a byte slice
func Marshal(c Codec, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v
func Unmarshal(c Codec, data []byte, v interface{}) error {
	return c.Decode(bytes.NewReader(data), v)
}

// Clone returns a deep copy of v made by encoding and decoding it
func Clone[T any](c Codec, v *T) (*T, error) {
	data, err := Marshal(c, v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clone: %w", err)
	}
	out := new(T)
	if err := Unmarshal(c, data, out); err != nil {
		return nil, fmt.Errorf("failed to decode clone: %w", err)
	}
	return out, nil
}
