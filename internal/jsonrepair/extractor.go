package jsonrepair

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// DefaultFields are the object keys whose string values FieldExtractor emits.
var DefaultFields = []string{"thoughts", "thought", "reasoning"}

type container byte

const (
	inObject container = '{'
	inArray  container = '['
)

// FieldExtractor pulls the values of selected string fields out of a JSON
// document while it is still streaming in. Write may be called with any
// fragment size, down to single characters; the decoded text of targeted
// values is returned as soon as it is seen and everything else is swallowed.
//
// Not safe for concurrent use.
type FieldExtractor struct {
	fields map[string]struct{}

	stack          []container
	inString       bool
	escaped        bool
	isKey          bool
	targeted       bool
	expectingValue bool
	key            strings.Builder
	lastKey        string

	unicode   []byte // hex digits of a pending \uXXXX escape
	inUnicode bool
	highSurr  rune

	partial []byte // leading bytes of a rune split across writes
	emitted strings.Builder
}

// NewFieldExtractor returns an extractor matching fields case-insensitively.
// With no fields DefaultFields is used.
func NewFieldExtractor(fields ...string) *FieldExtractor {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return &FieldExtractor{fields: set}
}

// Write consumes the next fragment and returns the text it released.
func (e *FieldExtractor) Write(fragment string) string {
	var out strings.Builder
	buf := fragment
	if len(e.partial) > 0 {
		buf = string(e.partial) + fragment
		e.partial = e.partial[:0]
	}
	for i := 0; i < len(buf); {
		if !utf8.FullRuneInString(buf[i:]) {
			e.partial = append(e.partial, buf[i:]...)
			break
		}
		r, size := utf8.DecodeRuneInString(buf[i:])
		e.step(r, &out)
		i += size
	}
	e.emitted.WriteString(out.String())
	return out.String()
}

// Text returns everything emitted so far.
func (e *FieldExtractor) Text() string {
	return e.emitted.String()
}

// Reset clears all state so the extractor can follow a new document.
func (e *FieldExtractor) Reset() {
	fields := e.fields
	*e = FieldExtractor{fields: fields}
}

func (e *FieldExtractor) step(r rune, out *strings.Builder) {
	if e.inString {
		e.stepString(r, out)
		return
	}

	switch r {
	case '"':
		e.inString = true
		e.isKey = e.top() == inObject && !e.expectingValue
		e.targeted = false
		if e.isKey {
			e.key.Reset()
		} else if e.expectingValue && e.top() == inObject {
			_, e.targeted = e.fields[strings.ToLower(e.lastKey)]
		}
		e.expectingValue = false
	case ':':
		e.expectingValue = true
	case ',':
		e.expectingValue = false
	case '{':
		e.stack = append(e.stack, inObject)
		e.expectingValue = false
	case '[':
		e.stack = append(e.stack, inArray)
		e.expectingValue = false
	case '}', ']':
		if len(e.stack) > 0 {
			e.stack = e.stack[:len(e.stack)-1]
		}
		e.expectingValue = false
	}
}

func (e *FieldExtractor) stepString(r rune, out *strings.Builder) {
	if e.inUnicode {
		e.unicode = append(e.unicode, byte(r))
		if len(e.unicode) < 4 {
			return
		}
		e.inUnicode = false
		code, err := strconv.ParseUint(string(e.unicode), 16, 32)
		e.unicode = e.unicode[:0]
		if err != nil {
			return
		}
		decoded := rune(code)
		if utf16.IsSurrogate(decoded) {
			if e.highSurr == 0 {
				e.highSurr = decoded
				return
			}
			decoded = utf16.DecodeRune(e.highSurr, decoded)
			e.highSurr = 0
		}
		e.accept(decoded, out)
		return
	}

	if e.escaped {
		e.escaped = false
		switch r {
		case 'n':
			e.accept('\n', out)
		case 'r':
			e.accept('\r', out)
		case 't':
			e.accept('\t', out)
		case 'b':
			e.accept('\b', out)
		case 'f':
			e.accept('\f', out)
		case 'u':
			e.inUnicode = true
		default:
			// \\ \" \/ and anything unknown decode to the character itself
			e.accept(r, out)
		}
		return
	}

	switch r {
	case '\\':
		e.escaped = true
	case '"':
		e.inString = false
		if e.isKey {
			e.lastKey = e.key.String()
		}
		e.isKey = false
		e.targeted = false
	default:
		e.accept(r, out)
	}
}

func (e *FieldExtractor) accept(r rune, out *strings.Builder) {
	if e.highSurr != 0 {
		// lone high surrogate
		e.highSurr = 0
		e.write(utf8.RuneError, out)
	}
	e.write(r, out)
}

func (e *FieldExtractor) write(r rune, out *strings.Builder) {
	switch {
	case e.isKey:
		e.key.WriteRune(r)
	case e.targeted:
		out.WriteRune(r)
	}
}

func (e *FieldExtractor) top() container {
	if len(e.stack) == 0 {
		return 0
	}
	return e.stack[len(e.stack)-1]
}
