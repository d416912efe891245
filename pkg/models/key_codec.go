package models

import (
	"fmt"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/friflo/fliox.go/pkg/constants"
)

// KeyKind is the closed set of native key types a container can declare.
type KeyKind uint8

const (
	// KeyAny accepts every non-null key. It is used by containers without a schema.
	KeyAny KeyKind = iota
	KeyInt
	KeyUint
	KeyByte
	KeyString

	// KeyNullable is or-ed onto a kind to also accept the null key.
	KeyNullable KeyKind = 0x80
)

// Base strips the nullable flag.
func (k KeyKind) Base() KeyKind {
	return k &^ KeyNullable
}

func (k KeyKind) IsNullable() bool {
	return k&KeyNullable != 0
}

func (k KeyKind) String() string {
	var name string
	switch k.Base() {
	case KeyInt:
		name = "int"
	case KeyUint:
		name = "uint"
	case KeyByte:
		name = "byte"
	case KeyString:
		name = "string"
	default:
		name = "any"
	}
	if k.IsNullable() {
		return name + "?"
	}
	return name
}

// ParseKeyKind parses the names produced by [KeyKind.String].
func ParseKeyKind(s string) (KeyKind, error) {
	var nullable KeyKind
	if strings.HasSuffix(s, "?") {
		nullable = KeyNullable
		s = strings.TrimSuffix(s, "?")
	}
	switch s {
	case "", "any":
		return KeyAny | nullable, nil
	case "int":
		return KeyInt | nullable, nil
	case "uint":
		return KeyUint | nullable, nil
	case "byte":
		return KeyByte | nullable, nil
	case "string":
		return KeyString | nullable, nil
	}
	return 0, fmt.Errorf("%w: unknown key kind %q", constants.ErrValidation, s)
}

// Check reports whether key is representable by the kind.
func (k KeyKind) Check(key EntityKey) error {
	if key.IsNull() {
		if k.IsNullable() {
			return nil
		}
		return fmt.Errorf("%w: null key for %s key", constants.ErrKeyFormat, k)
	}
	var err error
	switch k.Base() {
	case KeyInt:
		_, err = IntCodec[int64]{}.Decode(key)
	case KeyUint:
		_, err = UintCodec[uint64]{}.Decode(key)
	case KeyByte:
		_, err = UintCodec[uint8]{}.Decode(key)
	case KeyString:
		_, err = StringCodec{}.Decode(key)
	}
	return err
}

// KeyCodec maps a native key type to and from its EntityKey.
// Decode(Encode(k)) == k for every k of the native type.
type KeyCodec[K any] interface {
	Encode(key K) EntityKey
	Decode(key EntityKey) (K, error)
	Kind() KeyKind
}

func bitSize[T constraints.Integer]() int {
	var zero T
	return int(unsafe.Sizeof(zero)) * 8
}

type IntCodec[T constraints.Signed] struct{}

func (IntCodec[T]) Encode(key T) EntityKey {
	return IntKey(int64(key))
}

func (IntCodec[T]) Decode(key EntityKey) (T, error) {
	if !key.IsNumber() {
		return 0, fmt.Errorf("%w: expect integer key, got %s", constants.ErrKeyFormat, key)
	}
	v, err := strconv.ParseInt(key.text, 10, bitSize[T]())
	if err != nil {
		return 0, fmt.Errorf("%w: key %s out of range for %d bit integer", constants.ErrKeyFormat, key, bitSize[T]())
	}
	return T(v), nil
}

func (IntCodec[T]) Kind() KeyKind {
	return KeyInt
}

type UintCodec[T constraints.Unsigned] struct{}

func (UintCodec[T]) Encode(key T) EntityKey {
	return UintKey(uint64(key))
}

func (UintCodec[T]) Decode(key EntityKey) (T, error) {
	if !key.IsNumber() {
		return 0, fmt.Errorf("%w: expect unsigned integer key, got %s", constants.ErrKeyFormat, key)
	}
	v, err := strconv.ParseUint(key.text, 10, bitSize[T]())
	if err != nil {
		return 0, fmt.Errorf("%w: key %s out of range for %d bit unsigned integer", constants.ErrKeyFormat, key, bitSize[T]())
	}
	return T(v), nil
}

func (UintCodec[T]) Kind() KeyKind {
	if bitSize[T]() == 8 {
		return KeyByte
	}
	return KeyUint
}

// ByteCodec is the codec of byte sized keys.
type ByteCodec = UintCodec[uint8]

type StringCodec struct{}

func (StringCodec) Encode(key string) EntityKey {
	return StringKey(key)
}

func (StringCodec) Decode(key EntityKey) (string, error) {
	if !key.IsString() {
		return "", fmt.Errorf("%w: expect string key, got %s", constants.ErrKeyFormat, key)
	}
	return key.text, nil
}

func (StringCodec) Kind() KeyKind {
	return KeyString
}

// NullableCodec wraps a codec for pointer keys. A nil pointer encodes to the
// null key, which is distinct from zero and from the empty string.
type NullableCodec[T any] struct {
	Inner KeyCodec[T]
}

func Nullable[T any](inner KeyCodec[T]) NullableCodec[T] {
	return NullableCodec[T]{Inner: inner}
}

func (c NullableCodec[T]) Encode(key *T) EntityKey {
	if key == nil {
		return NullKey()
	}
	return c.Inner.Encode(*key)
}

func (c NullableCodec[T]) Decode(key EntityKey) (*T, error) {
	if key.IsNull() {
		return nil, nil
	}
	v, err := c.Inner.Decode(key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c NullableCodec[T]) Kind() KeyKind {
	return c.Inner.Kind() | KeyNullable
}
