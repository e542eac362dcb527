package cache

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testQuery struct {
	statement string
	bindings  []any
}

func (q testQuery) Statement() string { return q.statement }
func (q testQuery) Bindings() []any   { return q.bindings }

func query(statement string, bindings ...any) testQuery {
	return testQuery{statement: statement, bindings: bindings}
}

const usersByIDAndActive = "SELECT * FROM users WHERE id = ? AND active = ?"

var allDerivers = map[string]KeyDeriver{
	"framed/sha256":   NewKeyDeriver(KeyModeFramed, DigestSHA256),
	"framed/md5":      NewKeyDeriver(KeyModeFramed, DigestMD5),
	"framed/xxhash64": NewKeyDeriver(KeyModeFramed, DigestXXHash64),
	"legacy/md5":      NewLegacyKeyDeriver(),
	"legacy/sha256":   NewKeyDeriver(KeyModeLegacy, DigestSHA256),
}

func TestDeriveKey_Deterministic(t *testing.T) {
	for name, d := range allDerivers {
		t.Run(name, func(t *testing.T) {
			first, err := d.DeriveKey(query(usersByIDAndActive, 42, true), "")
			require.NoError(t, err)
			second, err := d.DeriveKey(query(usersByIDAndActive, 42, true), "")
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.NotEmpty(t, first)
		})
	}
}

func TestDeriveKey_SensitiveToBindings(t *testing.T) {
	for name, d := range allDerivers {
		t.Run(name, func(t *testing.T) {
			k42, err := d.DeriveKey(query(usersByIDAndActive, 42, true), "")
			require.NoError(t, err)
			k43, err := d.DeriveKey(query(usersByIDAndActive, 43, true), "")
			require.NoError(t, err)
			inactive, err := d.DeriveKey(query(usersByIDAndActive, 42, false), "")
			require.NoError(t, err)
			other, err := d.DeriveKey(query("SELECT * FROM posts WHERE id = ? AND active = ?", 42, true), "")
			require.NoError(t, err)

			assert.NotEqual(t, k42, k43)
			assert.NotEqual(t, k42, inactive)
			assert.NotEqual(t, k42, other)
		})
	}
}

func TestDeriveKey_DigestWidth(t *testing.T) {
	q := query(usersByIDAndActive, 42, true)

	tests := []struct {
		digest Digest
		width  int
	}{
		{DigestSHA256, 64},
		{DigestMD5, 32},
		{DigestXXHash64, 16},
	}

	for _, tt := range tests {
		t.Run(tt.digest.String(), func(t *testing.T) {
			key, err := NewKeyDeriver(KeyModeFramed, tt.digest).DeriveKey(q, "")
			require.NoError(t, err)
			assert.Len(t, key, tt.width)
			assert.Regexp(t, "^[0-9a-f]+$", key)
		})
	}
}

func TestDeriveKey_PrefixVerbatim(t *testing.T) {
	for name, d := range allDerivers {
		t.Run(name, func(t *testing.T) {
			key, err := d.DeriveKey(query(usersByIDAndActive, 42, true), "users:active")
			require.NoError(t, err)
			assert.Equal(t, "users:active", key)

			// The prefix wins even when the query itself could not be keyed.
			key, err = d.DeriveKey(query(usersByIDAndActive, 42), "users:active")
			require.NoError(t, err)
			assert.Equal(t, "users:active", key)
		})
	}
}

func TestDeriveKey_MismatchedParameterCount(t *testing.T) {
	tests := []struct {
		name         string
		q            testQuery
		placeholders int
		bindings     int
	}{
		{"too few bindings", query(usersByIDAndActive, 42), 2, 1},
		{"too many bindings", query("SELECT * FROM users WHERE id = ?", 1, 2), 1, 2},
		{"bindings without placeholders", query("SELECT * FROM users", 1), 0, 1},
	}

	for _, tt := range tests {
		for name, d := range allDerivers {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				key, err := d.DeriveKey(tt.q, "")
				assert.Empty(t, key)
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMismatchedParameterCount))

				var mismatch *MismatchedParameterCountError
				require.True(t, errors.As(err, &mismatch))
				assert.Equal(t, tt.placeholders, mismatch.Placeholders)
				assert.Equal(t, tt.bindings, mismatch.Bindings)
			})
		}
	}
}

type legacyVector struct {
	Name      string `json:"name"`
	Statement string `json:"statement"`
	Bindings  []any  `json:"bindings"`
	Key       string `json:"key"`
}

func TestLegacyKeyDeriver_GoldenVectors(t *testing.T) {
	var vectors []legacyVector
	testsupport.LoadFixtureJSON(t, testsupport.FixturePath("legacy_keys.json"), &vectors)
	require.NotEmpty(t, vectors)

	d := NewLegacyKeyDeriver()
	for _, v := range vectors {
		t.Run(v.Name, func(t *testing.T) {
			key, err := d.DeriveKey(query(v.Statement, v.Bindings...), "")
			require.NoError(t, err)
			assert.Equal(t, v.Key, key)
		})
	}
}

func TestLegacyKeyDeriver_NativeTypesMatchGolden(t *testing.T) {
	d := NewLegacyKeyDeriver()

	key, err := d.DeriveKey(query(usersByIDAndActive, int64(42), true), "")
	require.NoError(t, err)
	assert.Equal(t, "6fbfcd61592a736314dd07a0b066f968", key)

	id := 42
	key, err = d.DeriveKey(query(usersByIDAndActive, &id, sql.NullBool{Bool: true, Valid: true}), "")
	require.NoError(t, err)
	assert.Equal(t, "6fbfcd61592a736314dd07a0b066f968", key)
}

func TestRenderLegacy(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	tests := []struct {
		name      string
		statement string
		bindings  []any
		want      string
	}{
		{"bool and int", usersByIDAndActive, []any{42, true}, "SELECT * FROM users WHERE id = '42' AND active = '1'"},
		{"false and nil", "a = ? AND b = ?", []any{false, nil}, "a = '' AND b = ''"},
		{"time", "created_at > ?", []any{at}, "created_at > '2024-03-09 14:05:00'"},
		{"float", "price = ?", []any{19.99}, "price = '19.99'"},
		{"quote kept verbatim", "name = ?", []any{"O'Brien"}, "name = 'O'Brien'"},
		{"placeholder in value not re-expanded", "a = ? AND b = ?", []any{"?", "x"}, "a = '?' AND b = 'x'"},
		{"nil valuer pointer is null", "a = ? AND b = ?", []any{(*sql.NullInt64)(nil), sql.NullString{}}, "a = '' AND b = ''"},
		{"nil stringer pointer is null", "a = ?", []any{(*time.Time)(nil)}, "a = ''"},
		{"valid valuer", "a = ?", []any{&sql.NullInt64{Int64: 7, Valid: true}}, "a = '7'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered, err := renderLegacy(tt.statement, tt.bindings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rendered)
		})
	}
}

func TestLegacyMode_QuoteAmbiguity(t *testing.T) {
	statement := "SELECT * FROM t WHERE a = ? AND b = ?"
	left := query(statement, "1' AND b = '2", "X")
	right := query(statement, "1", "2' AND b = 'X")

	legacyLeft, err := NewLegacyKeyDeriver().DeriveKey(left, "")
	require.NoError(t, err)
	legacyRight, err := NewLegacyKeyDeriver().DeriveKey(right, "")
	require.NoError(t, err)
	assert.Equal(t, legacyLeft, legacyRight, "legacy interpolation is expected to collide")

	framedLeft, err := DefaultKeyDeriver().DeriveKey(left, "")
	require.NoError(t, err)
	framedRight, err := DefaultKeyDeriver().DeriveKey(right, "")
	require.NoError(t, err)
	assert.NotEqual(t, framedLeft, framedRight)
}

func TestFramedMode_TypeTagged(t *testing.T) {
	d := DefaultKeyDeriver()
	statement := "SELECT * FROM users WHERE id = ?"

	asInt, err := d.DeriveKey(query(statement, 42), "")
	require.NoError(t, err)
	asInt64, err := d.DeriveKey(query(statement, int64(42)), "")
	require.NoError(t, err)
	asString, err := d.DeriveKey(query(statement, "42"), "")
	require.NoError(t, err)

	assert.Equal(t, asInt, asInt64, "integer width must not change the key")
	assert.NotEqual(t, asInt, asString)

	legacyInt, err := NewLegacyKeyDeriver().DeriveKey(query(statement, 42), "")
	require.NoError(t, err)
	legacyString, err := NewLegacyKeyDeriver().DeriveKey(query(statement, "42"), "")
	require.NoError(t, err)
	assert.Equal(t, legacyInt, legacyString)
}

func TestFramedMode_Scope(t *testing.T) {
	d := DefaultKeyDeriver()
	q := query("SELECT * FROM users")

	base, err := d.DeriveKey(q, "")
	require.NoError(t, err)
	find42, err := d.DeriveKey(q, "", "find", 42)
	require.NoError(t, err)
	find43, err := d.DeriveKey(q, "", "find", 43)
	require.NoError(t, err)

	assert.NotEqual(t, base, find42)
	assert.NotEqual(t, find42, find43)

	legacy := NewLegacyKeyDeriver()
	legacyBase, err := legacy.DeriveKey(q, "")
	require.NoError(t, err)
	legacyFind, err := legacy.DeriveKey(q, "", "find", 42)
	require.NoError(t, err)
	assert.Equal(t, legacyBase, legacyFind, "legacy keys ignore scope")
}

func encode(t *testing.T, v any) string {
	t.Helper()
	encoded, err := encodeValue(v, 0)
	require.NoError(t, err)
	return encoded
}

func TestEncodeValue_Deterministic(t *testing.T) {
	m := map[string]any{"b": 2, "a": []int{1, 2}, "c": map[int]string{2: "y", 1: "x"}}
	first := encode(t, m)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, encode(t, m))
	}

	type filter struct {
		Name   string
		Tags   []string
		hidden int
	}
	a := encode(t, filter{Name: "x", Tags: []string{"t"}, hidden: 1})
	b := encode(t, filter{Name: "x", Tags: []string{"t"}, hidden: 2})
	assert.Equal(t, a, b, "unexported fields are not part of the encoding")

	assert.NotEqual(t, encode(t, []string{"a,b"}), encode(t, []string{"a", "b"}))
	assert.NotEqual(t, encode(t, nil), encode(t, "nil"))
	assert.Equal(t, "nil", encode(t, (*int)(nil)))
	assert.Equal(t, "nil", encode(t, (*sql.NullInt64)(nil)))
	assert.Equal(t, "nil", encode(t, sql.NullInt64{}))
	assert.Equal(t, encode(t, sql.NullInt64{Int64: 7, Valid: true}), encode(t, &sql.NullInt64{Int64: 7, Valid: true}))
}

func TestDeriveKey_NilValuerPointer(t *testing.T) {
	q := query("SELECT * FROM t WHERE a = ?", (*sql.NullInt64)(nil))
	for name, d := range allDerivers {
		t.Run(name, func(t *testing.T) {
			var key string
			var err error
			require.NotPanics(t, func() { key, err = d.DeriveKey(q, "") })
			require.NoError(t, err)

			null, err := d.DeriveKey(query("SELECT * FROM t WHERE a = ?", nil), "")
			require.NoError(t, err)
			assert.Equal(t, null, key)
		})
	}
}

type failingValuer struct{}

var errValuer = errors.New("valuer failed")

func (failingValuer) Value() (driver.Value, error) { return nil, errValuer }

func TestDeriveKey_ValuerError(t *testing.T) {
	q := query("SELECT * FROM t WHERE a = ?", failingValuer{})
	for name, d := range allDerivers {
		t.Run(name, func(t *testing.T) {
			key, err := d.DeriveKey(q, "")
			assert.Empty(t, key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnencodableBinding))
			assert.True(t, errors.Is(err, errValuer))
		})
	}

	key, err := DefaultKeyDeriver().DeriveKey(q, "failing")
	require.NoError(t, err)
	assert.Equal(t, "failing", key, "a prefix skips binding encoding")
}

type node struct {
	Name string
	Next *node
}

func TestDeriveKey_CyclicBindings(t *testing.T) {
	loop := &node{Name: "a"}
	loop.Next = loop

	list := []any{1}
	list = append(list, nil)
	list[1] = list

	tree := map[string]any{}
	tree["self"] = tree

	for name, binding := range map[string]any{"pointer": loop, "slice": list, "map": tree} {
		for dname, d := range allDerivers {
			t.Run(name+"/"+dname, func(t *testing.T) {
				var err error
				require.NotPanics(t, func() {
					_, err = d.DeriveKey(query("SELECT * FROM t WHERE a = ?", binding), "")
				})
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnencodableBinding))
			})
		}
	}
}

func TestEncodeValue_DeepButFinite(t *testing.T) {
	var deep any = "leaf"
	for i := 0; i < maxBindingDepth+5; i++ {
		deep = []any{deep}
	}
	first := encode(t, deep)
	assert.Equal(t, first, encode(t, deep))
}

func TestParseKeyModeAndDigest(t *testing.T) {
	mode, err := ParseKeyMode("Legacy")
	require.NoError(t, err)
	assert.Equal(t, KeyModeLegacy, mode)

	mode, err = ParseKeyMode("")
	require.NoError(t, err)
	assert.Equal(t, KeyModeFramed, mode)

	_, err = ParseKeyMode("quoted")
	assert.Error(t, err)

	digest, err := ParseDigest("md5")
	require.NoError(t, err)
	assert.Equal(t, DigestMD5, digest)

	digest, err = ParseDigest("xxhash")
	require.NoError(t, err)
	assert.Equal(t, DigestXXHash64, digest)

	_, err = ParseDigest("crc32")
	assert.Error(t, err)

	assert.Equal(t, "framed", KeyModeFramed.String())
	assert.Equal(t, "sha256", DigestSHA256.String())
}
