// Package canonical produces deterministic fingerprints of tool invocations.
//
// Two calls are considered identical when their tool names match and their
// parameters render to the same canonical JSON: object keys sorted, array
// order preserved, numbers kept in the textual form they arrived in.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders v as canonical JSON.
func Canonicalize(v any) (string, error) {
	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Hash returns the hex SHA-256 fingerprint of (tool, params).
// A nil map and an empty map hash identically.
func Hash(tool string, params map[string]any) string {
	body, err := Canonicalize(params)
	if err != nil {
		// unrepresentable values still need a stable identity
		body = fmt.Sprintf("%#v", params)
	}
	sum := sha256.Sum256([]byte(tool + "\x00" + body))
	return hex.EncodeToString(sum[:])
}

// DecodeParams decodes a JSON object keeping numeric literals as json.Number
// so the hash sees them exactly as the model wrote them.
func DecodeParams(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Shape summarises the structure of params without their values, e.g.
// "city:string,days:number". Nested objects are rendered in braces.
func Shape(params map[string]any) string {
	keys := sortedKeys(params)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+kind(params[k]))
	}
	return strings.Join(parts, ",")
}

func kind(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return "number"
	case map[string]any:
		return "{" + Shape(t) + "}"
	case []any:
		return "array"
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			return "array"
		case reflect.Map, reflect.Struct:
			return "object"
		}
		return "unknown"
	}
}

func write(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case float64:
		return writeFloat(buf, t, 64)
	case float32:
		return writeFloat(buf, float64(t), 32)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range sortedKeys(t) {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := write(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		// Typed values (structs, typed maps/slices) go through encoding/json
		// and are decoded back into the generic form first.
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("canonicalize %T: %w", v, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("canonicalize %T: %w", v, err)
		}
		return write(buf, generic)
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64, bits int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonicalize: unsupported number %v", f)
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, bits))
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	// json.Marshal on a string cannot fail; HTML escaping is disabled so
	// "<" and "&" keep their literal form.
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
