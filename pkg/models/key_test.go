package models

import (
	"math"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friflo/fliox.go/pkg/constants"
)

func roundtrip[K comparable](t *testing.T, codec KeyCodec[K], keys ...K) {
	t.Helper()
	for _, k := range keys {
		decoded, err := codec.Decode(codec.Encode(k))
		require.NoError(t, err)
		assert.Equal(t, k, decoded)
	}
}

func TestKeyCodec_roundtrip(t *testing.T) {
	roundtrip[int64](t, IntCodec[int64]{}, 0, 1, -1, math.MaxInt64, math.MinInt64)
	roundtrip[int32](t, IntCodec[int32]{}, 0, math.MaxInt32, math.MinInt32)
	roundtrip[int8](t, IntCodec[int8]{}, math.MaxInt8, math.MinInt8)
	roundtrip[uint64](t, UintCodec[uint64]{}, 0, math.MaxUint64)
	roundtrip[uint16](t, UintCodec[uint16]{}, 0, math.MaxUint16)
	roundtrip[byte](t, ByteCodec{}, 0, 7, 255)
	roundtrip[string](t, StringCodec{}, "", "a", "12", "'quoted'", "with space/slash")
}

func TestKeyCodec_nullable(t *testing.T) {
	ints := Nullable[int](IntCodec[int]{})
	zero := 0
	assert.True(t, ints.Encode(nil).IsNull())
	assert.False(t, ints.Encode(&zero).IsNull())

	decoded, err := ints.Decode(NullKey())
	require.NoError(t, err)
	assert.Nil(t, decoded)

	decoded, err = ints.Decode(ints.Encode(&zero))
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, 0, *decoded)

	strs := Nullable[string](StringCodec{})
	empty := ""
	assert.NotEqual(t, strs.Encode(nil), strs.Encode(&empty))
	decodedStr, err := strs.Decode(strs.Encode(&empty))
	require.NoError(t, err)
	require.NotNil(t, decodedStr)
	assert.Equal(t, "", *decodedStr)

	assert.Equal(t, KeyInt|KeyNullable, ints.Kind())
}

func TestKeyCodec_errors(t *testing.T) {
	_, err := IntCodec[int]{}.Decode(StringKey("1"))
	assert.ErrorIs(t, err, constants.ErrKeyFormat)

	_, err = StringCodec{}.Decode(IntKey(1))
	assert.ErrorIs(t, err, constants.ErrKeyFormat)

	_, err = ByteCodec{}.Decode(IntKey(256))
	assert.ErrorIs(t, err, constants.ErrKeyFormat, "must reject instead of truncate")

	_, err = IntCodec[int64]{}.Decode(UintKey(math.MaxUint64))
	assert.ErrorIs(t, err, constants.ErrKeyFormat)

	_, err = UintCodec[uint32]{}.Decode(IntKey(-1))
	assert.ErrorIs(t, err, constants.ErrKeyFormat)

	_, err = IntCodec[int]{}.Decode(NullKey())
	assert.ErrorIs(t, err, constants.ErrKeyFormat, "null key only decodes for nullable codecs")
}

func TestEntityKey_equality(t *testing.T) {
	assert.Equal(t, IntKey(5), UintKey(5))
	assert.NotEqual(t, IntKey(5), StringKey("5"))

	set := map[EntityKey]int{IntKey(1): 1, StringKey("1"): 2}
	assert.Len(t, set, 2)

	key, err := ParseNumberKey("007")
	require.NoError(t, err)
	assert.Equal(t, IntKey(7), key)
}

func TestEntityKey_json(t *testing.T) {
	keys := []EntityKey{IntKey(-3), UintKey(math.MaxUint64), StringKey("abc"), StringKey("42"), NullKey()}
	data, err := json.Marshal(keys)
	require.NoError(t, err)
	assert.Equal(t, `[-3,18446744073709551615,"abc","42",null]`, string(data))

	var decoded []EntityKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, keys, decoded)

	var bad EntityKey
	assert.ErrorIs(t, json.Unmarshal([]byte(`1.5`), &bad), constants.ErrKeyFormat)
}

func TestEntityKey_cbor(t *testing.T) {
	keys := []EntityKey{IntKey(-3), UintKey(math.MaxUint64), StringKey("abc"), NullKey()}
	data, err := cbor.Marshal(keys)
	require.NoError(t, err)

	var decoded []EntityKey
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, keys, decoded)
}

func TestEntityKey_token(t *testing.T) {
	for _, key := range []EntityKey{IntKey(12), StringKey("12"), StringKey(""), StringKey("'x")} {
		parsed, err := ParseToken(key.Token())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}
	assert.NotEqual(t, IntKey(12).Token(), StringKey("12").Token())
}

func TestKeyKind_check(t *testing.T) {
	assert.NoError(t, KeyInt.Check(IntKey(-1)))
	assert.ErrorIs(t, KeyInt.Check(StringKey("a")), constants.ErrKeyFormat)
	assert.ErrorIs(t, KeyByte.Check(IntKey(300)), constants.ErrKeyFormat)
	assert.ErrorIs(t, KeyString.Check(NullKey()), constants.ErrKeyFormat)
	assert.NoError(t, (KeyString | KeyNullable).Check(NullKey()))
	assert.NoError(t, KeyAny.Check(StringKey("x")))

	kind, err := ParseKeyKind("uint?")
	require.NoError(t, err)
	assert.Equal(t, KeyUint|KeyNullable, kind)
	assert.Equal(t, "uint?", kind.String())
}

func TestUniqueKeys(t *testing.T) {
	keys := UniqueKeys([]EntityKey{IntKey(2), IntKey(1), NullKey(), IntKey(2), StringKey("2")})
	assert.Equal(t, []EntityKey{IntKey(2), IntKey(1), StringKey("2")}, keys)
}

func TestMergeDocument(t *testing.T) {
	base := Document{"a": 1, "nested": map[string]any{"x": 1, "y": 2}}
	merged := MergeDocument(base, Document{"nested": map[string]any{"x": 3}, "b": true})

	assert.Equal(t, Document{"a": 1, "b": true, "nested": map[string]any{"x": 3}}, merged)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, base["nested"], "base must not change")
}

func TestNormalizeNumbers(t *testing.T) {
	var doc Document
	require.NoError(t, decodeJSON(`{"i":2,"neg":-3,"big":18446744073709551615,"f":1.5,"s":"2","list":[1,{"n":2.5}]}`, &doc))

	normalized := NormalizeNumbers(doc)
	assert.Equal(t, Document{
		"i":    int64(2),
		"neg":  int64(-3),
		"big":  uint64(math.MaxUint64),
		"f":    1.5,
		"s":    "2",
		"list": []any{int64(1), map[string]any{"n": 2.5}},
	}, normalized)
	assert.Equal(t, json.Number("2"), doc["i"], "source must not change")

	data, err := cbor.Marshal(normalized)
	require.NoError(t, err)
	var decoded Document
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, int64(2), NormalizeValue(decoded["i"]))
	assert.Equal(t, 1.5, decoded["f"])
}

func decodeJSON(text string, dst any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	return dec.Decode(dst)
}
