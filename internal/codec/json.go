package codec

import (
	"bytes"
	"io"

	"github.com/goccy/go-json"
)

const JSONContentType = "application/json"

// JSON decodes numbers as json.Number so integer keys and document
// values keep their full precision.
type JSON struct{}

var _ Codec = JSON{}

func NewJSON() JSON {
	return JSON{}
}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

func (JSON) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (JSON) NewDecoder(r io.Reader) Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

func (JSON) ContentType() string {
	return JSONContentType
}
