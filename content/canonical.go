package content

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"unicode/utf8"
)

// Canonicalize re-encodes a JSON body with sorted object keys and no
// insignificant whitespace, preserving number literals. ok is false when
// the body is not a single JSON value, or is not valid UTF-8 (decoding
// would replace bad bytes with U+FFFD and merge distinct bodies); callers
// then hash the raw bytes.
func Canonicalize(body []byte) (canonical []byte, ok bool) {
	if !utf8.Valid(body) {
		return nil, false
	}
	v, err := decodeJSON(body)
	if err != nil {
		return nil, false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, false
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), true
}

// Hash returns the hex SHA-256 of the canonical form of body.
func Hash(body []byte) string {
	data := body
	if canonical, ok := Canonicalize(body); ok {
		data = canonical
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// decodeJSON decodes exactly one JSON value, keeping numbers as
// json.Number.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}
