// Package codec is the narrow encode/decode contract the hub and its
// transports use for SyncRequest, SyncResponse and event frames.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is a Marshaler and Unmarshaler pair sharing one wire format.
type Codec interface {
	Marshaler
	Unmarshaler
	// ContentType is the MIME type used by the request/response binding.
	ContentType() string
}

// ByContentType returns the codec registered for a MIME type, or JSON.
func ByContentType(contentType string) Codec {
	if contentType == CBORContentType {
		return NewCBOR()
	}
	return NewJSON()
}
