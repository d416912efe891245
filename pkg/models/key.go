package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"

	"github.com/friflo/fliox.go/pkg/constants"
)

type keyVariant uint8

const (
	keyNull keyVariant = iota
	keyNumber
	keyString
)

// EntityKey is the canonical key of an entity within a container.
//
// Every native key type a container declares (signed and unsigned integers,
// bytes, strings and their nullable forms) maps to exactly one EntityKey, see
// [KeyCodec]. An EntityKey is comparable and can be used as a map key.
// Numbers are held as canonical decimal text, so 64-bit unsigned values keep
// their full precision.
//
// The zero value is the null key.
type EntityKey struct {
	variant keyVariant
	text    string
}

// NullKey returns the key used for "no key" by nullable key kinds.
func NullKey() EntityKey {
	return EntityKey{}
}

func IntKey(v int64) EntityKey {
	return EntityKey{variant: keyNumber, text: strconv.FormatInt(v, 10)}
}

func UintKey(v uint64) EntityKey {
	return EntityKey{variant: keyNumber, text: strconv.FormatUint(v, 10)}
}

func StringKey(s string) EntityKey {
	return EntityKey{variant: keyString, text: s}
}

// ParseNumberKey canonicalizes a decimal integer literal like "007" or "-12".
func ParseNumberKey(s string) (EntityKey, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return EntityKey{}, fmt.Errorf("%w: invalid integer key %q", constants.ErrKeyFormat, s)
		}
		return IntKey(v), nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "+"), 10, 64)
	if err != nil {
		return EntityKey{}, fmt.Errorf("%w: invalid integer key %q", constants.ErrKeyFormat, s)
	}
	return UintKey(v), nil
}

// KeyFromAny converts a decoded wire value into an EntityKey.
func KeyFromAny(v any) (EntityKey, error) {
	switch k := v.(type) {
	case nil:
		return NullKey(), nil
	case EntityKey:
		return k, nil
	case string:
		return StringKey(k), nil
	case json.Number:
		return ParseNumberKey(k.String())
	case int:
		return IntKey(int64(k)), nil
	case int8:
		return IntKey(int64(k)), nil
	case int16:
		return IntKey(int64(k)), nil
	case int32:
		return IntKey(int64(k)), nil
	case int64:
		return IntKey(k), nil
	case uint:
		return UintKey(uint64(k)), nil
	case uint8:
		return UintKey(uint64(k)), nil
	case uint16:
		return UintKey(uint64(k)), nil
	case uint32:
		return UintKey(uint64(k)), nil
	case uint64:
		return UintKey(k), nil
	case float64:
		if k != float64(int64(k)) {
			return EntityKey{}, fmt.Errorf("%w: non integral number %v", constants.ErrKeyFormat, k)
		}
		return IntKey(int64(k)), nil
	}
	return EntityKey{}, fmt.Errorf("%w: unsupported key type %T", constants.ErrKeyFormat, v)
}

func (k EntityKey) IsNull() bool   { return k.variant == keyNull }
func (k EntityKey) IsNumber() bool { return k.variant == keyNumber }
func (k EntityKey) IsString() bool { return k.variant == keyString }

// Text returns the decimal digits of a number key or the value of a string key.
func (k EntityKey) Text() string {
	return k.text
}

func (k EntityKey) String() string {
	switch k.variant {
	case keyNumber:
		return k.text
	case keyString:
		return strconv.Quote(k.text)
	}
	return "null"
}

// Token is a text form that keeps the variant apart: "12" is a number,
// "'12" is a string. Storage backends use it as the persisted key.
func (k EntityKey) Token() string {
	switch k.variant {
	case keyNumber:
		return k.text
	case keyString:
		return "'" + k.text
	}
	return ""
}

// ParseToken is the inverse of [EntityKey.Token].
func ParseToken(token string) (EntityKey, error) {
	if token == "" {
		return NullKey(), nil
	}
	if strings.HasPrefix(token, "'") {
		return StringKey(token[1:]), nil
	}
	return ParseNumberKey(token)
}

func (k EntityKey) MarshalJSON() ([]byte, error) {
	switch k.variant {
	case keyNumber:
		return []byte(k.text), nil
	case keyString:
		return json.Marshal(k.text)
	}
	return []byte("null"), nil
}

func (k *EntityKey) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*k = NullKey()
		return nil
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("%w: %v", constants.ErrKeyFormat, err)
		}
		*k = StringKey(str)
		return nil
	}
	key, err := ParseNumberKey(s)
	if err != nil {
		return err
	}
	*k = key
	return nil
}

func (k EntityKey) MarshalCBOR() ([]byte, error) {
	switch k.variant {
	case keyNumber:
		if strings.HasPrefix(k.text, "-") {
			v, _ := strconv.ParseInt(k.text, 10, 64)
			return cbor.Marshal(v)
		}
		v, _ := strconv.ParseUint(k.text, 10, 64)
		return cbor.Marshal(v)
	case keyString:
		return cbor.Marshal(k.text)
	}
	return cbor.Marshal(nil)
}

func (k *EntityKey) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", constants.ErrKeyFormat, err)
	}
	key, err := KeyFromAny(v)
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// UniqueKeys removes duplicates and null keys, keeping the first occurrence order.
func UniqueKeys(keys []EntityKey) []EntityKey {
	seen := make(map[EntityKey]struct{}, len(keys))
	unique := make([]EntityKey, 0, len(keys))
	for _, key := range keys {
		if key.IsNull() {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	return unique
}
