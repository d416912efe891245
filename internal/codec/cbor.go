package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const CBORContentType = "application/cbor"

// CBOR decodes maps as map[string]any so documents look the same as
// the ones produced by the JSON codec.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = (*CBOR)(nil)

func NewCBOR() *CBOR {
	enc, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}

func (c *CBOR) ContentType() string {
	return CBORContentType
}
