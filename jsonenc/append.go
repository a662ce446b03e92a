// Package jsonenc implements zero-allocation JSON fragment encoding shared by
// the EMF document serializer and the diagnostic logger. Output is built by
// explicit append calls against a bytes.Buffer, so key order is exactly what
// the caller dictates; there is no reflection and no intermediate map.
package jsonenc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// AppendBeginMarker inserts an object start character '{' into the destination buffer.
//
// Parameters:
//   - buf: Buffer to append the begin marker to
func AppendBeginMarker(buf *bytes.Buffer) {
	buf.WriteByte('{')
}

// AppendEndMarker inserts an object end character '}' into the destination buffer.
//
// Parameters:
//   - buf: Buffer to append the end marker to
func AppendEndMarker(buf *bytes.Buffer) {
	buf.WriteByte('}')
}

// AppendKey appends a new key to the output JSON with proper formatting.
// It inserts a comma separator unless the previous byte opened an object or an
// array, then appends the escaped key followed by a colon.
//
// Parameters:
//   - buf: Buffer to append the key to
//   - key: String key to append
func AppendKey(buf *bytes.Buffer, key string) {
	if last, ok := lastByte(buf); ok && last != '{' && last != '[' {
		buf.WriteByte(',')
	}
	AppendString(buf, key)
	buf.WriteByte(':')
}

// AppendNil inserts a JSON 'null' value into the buffer.
func AppendNil(buf *bytes.Buffer) {
	buf.WriteString("null")
}

// AppendLineBreak appends a newline character '\n' to the buffer.
// Log appenders terminate entries with it; the EMF serializer never calls it,
// emitted documents must stay newline-free.
func AppendLineBreak(buf *bytes.Buffer) {
	buf.WriteByte('\n')
}

// AppendArrayStart adds a JSON array start character '[' to the buffer.
func AppendArrayStart(buf *bytes.Buffer) {
	buf.WriteByte('[')
}

// AppendArrayEnd adds a JSON array end character ']' to the buffer.
func AppendArrayEnd(buf *bytes.Buffer) {
	buf.WriteByte(']')
}

// AppendArrayDelim adds a comma separator between array elements unless the
// previous byte opened the array.
func AppendArrayDelim(buf *bytes.Buffer) {
	if last, ok := lastByte(buf); ok && last != '[' {
		buf.WriteByte(',')
	}
}

// AppendBool converts a boolean value to its JSON representation and appends it.
func AppendBool(buf *bytes.Buffer, val bool) {
	if val {
		buf.WriteString("true")
		return
	}
	buf.WriteString("false")
}

// AppendInt converts int to string and appends to buffer.
func AppendInt(buf *bytes.Buffer, val int) {
	buf.WriteString(strconv.FormatInt(int64(val), 10))
}

// AppendInt32 converts int32 to string and appends to buffer.
func AppendInt32(buf *bytes.Buffer, val int32) {
	buf.WriteString(strconv.FormatInt(int64(val), 10))
}

// AppendInt64 converts int64 to string and appends to buffer.
func AppendInt64(buf *bytes.Buffer, val int64) {
	buf.WriteString(strconv.FormatInt(val, 10))
}

// AppendInt64s encodes []int64 to a JSON array.
func AppendInt64s(buf *bytes.Buffer, vals []int64) {
	if len(vals) == 0 {
		buf.WriteString("[]")
		return
	}

	buf.WriteByte('[')
	buf.WriteString(strconv.FormatInt(vals[0], 10))
	for i := 1; i < len(vals); i++ {
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatInt(vals[i], 10))
	}
	buf.WriteByte(']')
}

// AppendUint32 converts uint32 to string and appends to buffer.
func AppendUint32(buf *bytes.Buffer, val uint32) {
	buf.WriteString(strconv.FormatUint(uint64(val), 10))
}

// AppendUint64 converts uint64 to string and appends to buffer.
func AppendUint64(buf *bytes.Buffer, val uint64) {
	buf.WriteString(strconv.FormatUint(val, 10))
}

// AppendFloat32 converts float32 to string and appends to buffer.
func AppendFloat32(buf *bytes.Buffer, val float32) {
	appendFloat(buf, float64(val), 32)
}

// AppendFloat64 converts float64 to string and appends to buffer.
func AppendFloat64(buf *bytes.Buffer, val float64) {
	appendFloat(buf, val, 64)
}

// AppendFloat64s encodes []float64 to a JSON array.
func AppendFloat64s(buf *bytes.Buffer, vals []float64) {
	if len(vals) == 0 {
		buf.WriteString("[]")
		return
	}

	buf.WriteByte('[')
	appendFloat(buf, vals[0], 64)
	for i := 1; i < len(vals); i++ {
		buf.WriteByte(',')
		appendFloat(buf, vals[i], 64)
	}
	buf.WriteByte(']')
}

// AppendTime formats a time value as an RFC3339 string and appends it.
func AppendTime(buf *bytes.Buffer, t *time.Time) {
	if t == nil {
		AppendNil(buf)
		return
	}
	buf.WriteByte('"')
	buf.Write(t.AppendFormat(make([]byte, 0, len(time.RFC3339Nano)), time.RFC3339Nano))
	buf.WriteByte('"')
}

// AppendRawJSON appends a pre-encoded JSON fragment verbatim.
// The caller guarantees the fragment is itself valid JSON.
func AppendRawJSON(buf *bytes.Buffer, raw []byte) {
	buf.Write(raw)
}

// AppendInterface marshals any value to JSON and appends it.
// Marshal failures degrade to an escaped error string so the surrounding
// document stays valid.
func AppendInterface(buf *bytes.Buffer, i any) {
	marshaled, err := json.Marshal(i)
	if err != nil {
		AppendString(buf, fmt.Sprintf("marshaling error: %v", err))
		return
	}
	buf.Write(marshaled)
}

// appendFloat handles special float values (NaN, Inf) and appends to buffer.
// The special values are rendered as quoted strings: bare NaN/Inf tokens are
// not valid JSON.
func appendFloat(buf *bytes.Buffer, val float64, bitSize int) {
	switch {
	case math.IsNaN(val):
		buf.WriteString(`"NaN"`)
		return
	case math.IsInf(val, 1):
		buf.WriteString(`"Inf"`)
		return
	case math.IsInf(val, -1):
		buf.WriteString(`"-Inf"`)
		return
	}
	b := buf.AvailableBuffer()
	buf.Write(strconv.AppendFloat(b, val, 'f', -1, bitSize))
}

const _hex = "0123456789abcdef"

var _noEscapeTable = [256]bool{}

func init() {
	for i := 0; i <= 0x7e; i++ {
		_noEscapeTable[i] = i >= 0x20 && i != '\\' && i != '"'
	}
}

// AppendStrings encodes the input strings to a JSON array and appends to buffer.
func AppendStrings(buf *bytes.Buffer, vals []string) {
	if len(vals) == 0 {
		buf.WriteString("[]")
		return
	}

	buf.WriteByte('[')
	AppendString(buf, vals[0])
	for i := 1; i < len(vals); i++ {
		buf.WriteByte(',')
		AppendString(buf, vals[i])
	}
	buf.WriteByte(']')
}

// AppendString encodes the input string to JSON and appends to buffer.
//
// The operation loops through each byte in the string looking for characters
// that need JSON or UTF-8 encoding. If the string does not need encoding, it
// is appended in its entirety.
func AppendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')

	for i := 0; i < len(s); i++ {
		if !_noEscapeTable[s[i]] {
			appendStringComplex(buf, s)
			buf.WriteByte('"')
			return
		}
	}

	buf.WriteString(s)
	buf.WriteByte('"')
}

// AppendStringer encodes the input Stringer to JSON and appends to buffer.
func AppendStringer(buf *bytes.Buffer, val fmt.Stringer) {
	if val == nil {
		AppendString(buf, "<nil>")
		return
	}
	AppendString(buf, val.String())
}

// appendStringComplex handles string encoding for characters that need
// escaping. The surrounding quotes belong to the caller.
func appendStringComplex(buf *bytes.Buffer, s string) {
	start := 0
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				// Invalid UTF-8 sequence
				if start < i {
					buf.WriteString(s[start:i])
				}
				buf.WriteString(`�`)
				i += size - 1
				start = i + 1
				continue
			}
			// Valid UTF-8, skip to next character
			i += size - 1
			continue
		}

		if _noEscapeTable[b] {
			continue
		}

		if start < i {
			buf.WriteString(s[start:i])
		}

		switch b {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			// Control characters
			buf.WriteString(`\u00`)
			buf.WriteByte(_hex[b>>4])
			buf.WriteByte(_hex[b&0xF])
		}
		start = i + 1
	}

	if start < len(s) {
		buf.WriteString(s[start:])
	}
}

func lastByte(buf *bytes.Buffer) (byte, bool) {
	if buf.Len() == 0 {
		return 0, false
	}
	return buf.Bytes()[buf.Len()-1], true
}
