// Package json wraps goccy/go-json for report, dump and debug-mirror output.
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Marshal is a drop-in replacement for encoding/json.Marshal.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for encoding/json.MarshalIndent.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// NewEncoder returns an encoder that does not escape HTML.
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// LinesEncoder writes one JSON document per line and counts them.
type LinesEncoder struct {
	enc   *gojson.Encoder
	count int
}

// NewLinesEncoder creates a line-delimited encoder on w.
func NewLinesEncoder(w io.Writer) *LinesEncoder {
	return &LinesEncoder{enc: NewEncoder(w)}
}

// Encode writes v followed by a newline.
func (le *LinesEncoder) Encode(v interface{}) error {
	if err := le.enc.Encode(v); err != nil {
		return err
	}
	le.count++
	return nil
}

// Count returns the number of documents written.
func (le *LinesEncoder) Count() int {
	return le.count
}
