// Package jsonrepair recovers JSON values from language model output.
//
// Models wrap JSON in markdown fences, leave trailing commas, put raw
// newlines inside strings and stop mid-object when they run out of tokens.
// Extract finds the first JSON value in such text and rewrites it into
// something encoding/json accepts.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when the text contains no object or array start.
var ErrNoJSON = errors.New("no json value found")

// StripFences removes a markdown code fence wrapping the first JSON value.
// A fence only counts when it opens before the value does; backticks inside
// string values are content. Text without a wrapping fence is returned
// trimmed.
func StripFences(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return strings.TrimSpace(text)
	}
	if start := strings.IndexAny(text, "{["); start >= 0 && start < open {
		return strings.TrimSpace(text)
	}
	body := text[open+3:]
	// drop the info string ("json", "JSON", ...) up to the end of the line
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(info, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// Extract locates the first top-level JSON object or array in text and
// returns it. Complete valid values come back byte-for-byte; anything else is
// passed through Repair.
func Extract(text string) (string, error) {
	s := StripFences(text)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	s = s[start:]

	if end, ok := balancedEnd(s); ok {
		candidate := s[:end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		return Repair(candidate), nil
	}
	return Repair(s), nil
}

// balancedEnd returns the index of the bracket closing the value opened at
// s[0], honouring strings and escapes.
func balancedEnd(s string) (int, bool) {
	depth := 0
	inStr := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inStr {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Repair rewrites a possibly malformed JSON value:
//   - newlines between tokens are dropped
//   - raw newlines, carriage returns and tabs inside strings are escaped
//   - commas directly before a closing bracket are removed
//   - an unterminated string is closed and missing closers are appended
//
// String contents are otherwise copied untouched. Scanning stops once the
// first value is closed.
func Repair(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 8)

	var closers []byte
	inStr := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inStr {
			switch {
			case escaped:
				escaped = false
				out.WriteByte(ch)
			case ch == '\\':
				escaped = true
				out.WriteByte(ch)
			case ch == '"':
				inStr = false
				out.WriteByte(ch)
			case ch == '\n':
				out.WriteString(`\n`)
			case ch == '\r':
				out.WriteString(`\r`)
			case ch == '\t':
				out.WriteString(`\t`)
			default:
				out.WriteByte(ch)
			}
			continue
		}

		switch ch {
		case '"':
			inStr = true
			out.WriteByte(ch)
		case '{':
			closers = append(closers, '}')
			out.WriteByte(ch)
		case '[':
			closers = append(closers, ']')
			out.WriteByte(ch)
		case '}', ']':
			if len(closers) == 0 {
				return out.String()
			}
			trimTrailingComma(&out)
			// close anything left open inside this container first
			for len(closers) > 0 {
				top := closers[len(closers)-1]
				closers = closers[:len(closers)-1]
				out.WriteByte(top)
				if top == ch {
					break
				}
			}
			if len(closers) == 0 {
				return out.String()
			}
		case '\n', '\r':
			// structural whitespace
		default:
			out.WriteByte(ch)
		}
	}

	// truncated input: finish the open string, drop a dangling separator
	// and close every open container
	if inStr {
		if escaped {
			trimLast(&out)
		}
		out.WriteByte('"')
	}
	trimTrailingComma(&out)
	if endsWith(&out, ':') {
		out.WriteString("null")
	}
	for i := len(closers) - 1; i >= 0; i-- {
		out.WriteByte(closers[i])
	}
	return out.String()
}

func trimTrailingComma(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " \t")
	if strings.HasSuffix(trimmed, ",") {
		trimmed = strings.TrimRight(trimmed[:len(trimmed)-1], " \t")
		b.Reset()
		b.WriteString(trimmed)
	}
}

func trimLast(b *strings.Builder) {
	s := b.String()
	if s == "" {
		return
	}
	b.Reset()
	b.WriteString(s[:len(s)-1])
}

func endsWith(b *strings.Builder, ch byte) bool {
	s := strings.TrimRight(b.String(), " \t")
	return s != "" && s[len(s)-1] == ch
}
