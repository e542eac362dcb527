package cache

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Placeholder is the positional parameter marker recognised in statements.
const Placeholder = "?"

// legacyTimeLayout is the date format used when rendering legacy keys.
const legacyTimeLayout = "2006-01-02 15:04:05"

// frameVersion is written first in every framed key so the encoding can evolve.
const frameVersion = "qc1"

// Query is the part of a query builder the key deriver needs.
type Query interface {
	Statement() string
	Bindings() []any
}

// KeyDeriver turns a query, or an explicit prefix, into a cache key.
// Scope values describe the terminal operation (find id, page size...) and are
// mixed into framed keys only.
type KeyDeriver interface {
	DeriveKey(q Query, prefix string, scope ...any) (string, error)
}

// KeyMode selects how statement and bindings are encoded before hashing.
type KeyMode int

const (
	// KeyModeFramed length-prefixes the statement and every type tagged binding.
	KeyModeFramed KeyMode = iota
	// KeyModeLegacy interpolates bindings as '<value>' into the statement, with
	// no escaping, reproducing md5 keys written by earlier PHP deployments.
	KeyModeLegacy
)

func (m KeyMode) String() string {
	switch m {
	case KeyModeFramed:
		return "framed"
	case KeyModeLegacy:
		return "legacy"
	default:
		return "KeyMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseKeyMode parses "framed" or "legacy".
func ParseKeyMode(s string) (KeyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "framed":
		return KeyModeFramed, nil
	case "legacy":
		return KeyModeLegacy, nil
	default:
		return 0, errors.Newf("cache: unknown key mode %q", s)
	}
}

// Digest selects the hash applied to the encoded query.
type Digest int

const (
	DigestSHA256 Digest = iota
	// DigestMD5 is required for keys compatible with KeyModeLegacy data.
	DigestMD5
	// DigestXXHash64 is fast but not collision resistant against crafted input.
	DigestXXHash64
)

func (d Digest) String() string {
	switch d {
	case DigestSHA256:
		return "sha256"
	case DigestMD5:
		return "md5"
	case DigestXXHash64:
		return "xxhash64"
	default:
		return "Digest(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDigest parses "sha256", "md5" or "xxhash64".
func ParseDigest(s string) (Digest, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sha256":
		return DigestSHA256, nil
	case "md5":
		return DigestMD5, nil
	case "xxhash64", "xxhash":
		return DigestXXHash64, nil
	default:
		return 0, errors.Newf("cache: unknown digest %q", s)
	}
}

func (d Digest) sum(data []byte) string {
	switch d {
	case DigestMD5:
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:])
	case DigestXXHash64:
		return fmt.Sprintf("%016x", xxhash.Sum64(data))
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

type keyDeriver struct {
	mode   KeyMode
	digest Digest
}

// NewKeyDeriver returns a deriver for the given encoding and digest.
func NewKeyDeriver(mode KeyMode, digest Digest) KeyDeriver {
	return &keyDeriver{mode: mode, digest: digest}
}

// NewLegacyKeyDeriver returns the interpolating md5 deriver.
func NewLegacyKeyDeriver() KeyDeriver {
	return NewKeyDeriver(KeyModeLegacy, DigestMD5)
}

// DefaultKeyDeriver returns a framed, sha256 based deriver.
func DefaultKeyDeriver() KeyDeriver {
	return NewKeyDeriver(KeyModeFramed, DigestSHA256)
}

// DeriveKey derives a key with the default deriver.
func DeriveKey(q Query, prefix string) (string, error) {
	return DefaultKeyDeriver().DeriveKey(q, prefix)
}

// DeriveKey returns prefix unchanged when it is set. Otherwise it checks that
// every placeholder has a binding and returns the lowercase hex digest of the
// encoded query. Bindings that cannot be encoded, such as a driver.Valuer
// returning an error or a self referencing container, fail the derivation.
func (d *keyDeriver) DeriveKey(q Query, prefix string, scope ...any) (string, error) {
	if prefix != "" {
		return prefix, nil
	}

	statement := q.Statement()
	bindings := q.Bindings()

	if n := strings.Count(statement, Placeholder); n != len(bindings) {
		return "", &MismatchedParameterCountError{Placeholders: n, Bindings: len(bindings)}
	}

	if d.mode == KeyModeLegacy {
		rendered, err := renderLegacy(statement, bindings)
		if err != nil {
			return "", err
		}
		return d.digest.sum([]byte(rendered)), nil
	}

	framed, err := frame(statement, bindings, scope)
	if err != nil {
		return "", err
	}
	return d.digest.sum(framed), nil
}

// maxBindingDepth bounds how far nested bindings are walked.
const maxBindingDepth = 32

// isNilPointer reports a typed nil pointer. Such bindings are NULL and never
// have their Value or String methods called.
func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func valuerValue(v driver.Valuer) (driver.Value, error) {
	value, err := v.Value()
	if err != nil {
		return nil, unencodable(err, v)
	}
	return value, nil
}

func unencodable(err error, v any) error {
	return &UnencodableBindingError{Type: fmt.Sprintf("%T", v), Cause: err}
}

func tooDeep(v any) error {
	return unencodable(errors.Newf("nested deeper than %d levels", maxBindingDepth), v)
}

// renderLegacy substitutes placeholders left to right. Callers have already
// checked that the counts match.
func renderLegacy(statement string, bindings []any) (string, error) {
	var b strings.Builder
	b.Grow(len(statement) + len(bindings)*8)

	next := 0
	for {
		i := strings.Index(statement, Placeholder)
		if i < 0 {
			b.WriteString(statement)
			break
		}
		value, err := legacyString(bindings[next], 0)
		if err != nil {
			return "", err
		}
		b.WriteString(statement[:i])
		b.WriteByte('\'')
		b.WriteString(value)
		b.WriteByte('\'')
		next++
		statement = statement[i+len(Placeholder):]
	}

	return b.String(), nil
}

// legacyString formats a binding with PHP string conversion rules: true is
// "1", false and nil are empty.
func legacyString(v any, depth int) (string, error) {
	if depth > maxBindingDepth {
		return "", tooDeep(v)
	}
	if isNilPointer(v) {
		return "", nil
	}

	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		if x {
			return "1", nil
		}
		return "", nil
	case time.Time:
		return x.Format(legacyTimeLayout), nil
	case driver.Valuer:
		value, err := valuerValue(x)
		if err != nil {
			return "", err
		}
		return legacyString(value, depth+1)
	case fmt.Stringer:
		return x.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return legacyString(rv.Bool(), depth)
	case reflect.String:
		return rv.String(), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "", nil
		}
		return legacyString(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		// fmt does not detect cycles in containers.
		if _, err := encodeValue(v, depth); err != nil {
			return "", err
		}
	}

	return fmt.Sprint(v), nil
}

// frame builds the unambiguous byte encoding hashed in framed mode.
func frame(statement string, bindings []any, scope []any) ([]byte, error) {
	var buf bytes.Buffer

	writeField(&buf, frameVersion)
	writeField(&buf, statement)

	for _, values := range [][]any{bindings, scope} {
		writeField(&buf, strconv.Itoa(len(values)))
		for _, v := range values {
			encoded, err := encodeValue(v, 0)
			if err != nil {
				return nil, err
			}
			writeField(&buf, encoded)
		}
	}

	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, s string) {
	var n [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(n[:], uint64(len(s)))
	buf.Write(n[:l])
	buf.WriteString(s)
}

// encodeValue returns a canonical, type tagged representation of v.
// Integers of any width share a tag so 42 and int64(42) encode the same.
// Past maxBindingDepth the value is handed to jsonFallback, which reports
// cycles as an error.
func encodeValue(v any, depth int) (string, error) {
	if depth > maxBindingDepth {
		return jsonFallback(v)
	}
	if isNilPointer(v) {
		return "nil", nil
	}

	switch x := v.(type) {
	case nil:
		return "nil", nil
	case []byte:
		return "bytes:" + hex.EncodeToString(x), nil
	case time.Time:
		return "time:" + x.UTC().Format(time.RFC3339Nano), nil
	case driver.Valuer:
		value, err := valuerValue(x)
		if err != nil {
			return "", err
		}
		if value == nil {
			return "nil", nil
		}
		encoded, err := encodeValue(value, depth+1)
		if err != nil {
			return "", err
		}
		return "valuer:" + encoded, nil
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Bool:
		return "bool:" + strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int:" + strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return "uint:" + strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return "float:" + strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	case reflect.Complex64, reflect.Complex128:
		return "complex:" + strconv.FormatComplex(rv.Complex(), 'g', -1, 128), nil
	case reflect.String:
		return "string:" + rv.String(), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil", nil
		}
		return encodeValue(rv.Elem().Interface(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil", nil
		}
		return encodeElems("slice", rv, depth)
	case reflect.Array:
		return encodeElems("array", rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil", nil
		}
		return encodeMap(rv, depth)
	case reflect.Struct:
		return encodeStruct(rv, rt, depth)
	}

	return jsonFallback(v)
}

func encodeElems(tag string, rv reflect.Value, depth int) (string, error) {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		encoded, err := encodeValue(rv.Index(i).Interface(), depth+1)
		if err != nil {
			return "", err
		}
		parts[i] = encoded
	}
	return fmt.Sprintf("%s[%d]:{%s}", tag, length, joinFramed(parts)), nil
}

// encodeMap sorts entries by their encoded key for determinism.
func encodeMap(rv reflect.Value, depth int) (string, error) {
	type pair struct{ key, value string }

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := encodeValue(iter.Key().Interface(), depth+1)
		if err != nil {
			return "", err
		}
		value, err := encodeValue(iter.Value().Interface(), depth+1)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = joinFramed([]string{p.key, p.value})
	}
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), joinFramed(parts)), nil
}

// encodeStruct encodes exported fields by name.
func encodeStruct(rv reflect.Value, rt reflect.Type, depth int) (string, error) {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		encoded, err := encodeValue(rv.Field(i).Interface(), depth+1)
		if err != nil {
			return "", err
		}
		parts = append(parts, joinFramed([]string{field.Name, encoded}))
	}
	return fmt.Sprintf("struct %s:{%s}", rt.String(), joinFramed(parts)), nil
}

// joinFramed length-prefixes each part so nested encodings cannot run together.
func joinFramed(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte('#')
		b.WriteString(p)
	}
	return b.String()
}

// jsonFallback covers kinds with no canonical form and values nested past
// maxBindingDepth.
func jsonFallback(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", unencodable(err, v)
	}
	return "json:" + string(data), nil
}
