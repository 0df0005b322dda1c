// Package canon implements the deterministic byte-string encoding used
// everywhere a hash or signature is computed. It deliberately does not use
// encoding/json's struct or map ordering: key order, integer formatting, and
// string escaping are all fixed here so that two nodes running different Go
// versions (or any other implementation) produce byte-identical output for
// the same logical value. Divergence here is treated as adversarial, not as
// a compatibility bug to be patched around.
package canon

import (
	"fmt"
	"strconv"
	"strings"
)

// Writer accumulates canonical bytes. Its zero value is ready to use.
type Writer struct {
	buf strings.Builder
}

// Bytes returns the accumulated canonical encoding.
func (w *Writer) Bytes() []byte {
	return []byte(w.buf.String())
}

// String returns the accumulated canonical encoding.
func (w *Writer) String() string {
	return w.buf.String()
}

// Raw appends data verbatim. Used only for pre-canonicalized fragments.
func (w *Writer) Raw(s string) {
	w.buf.WriteString(s)
}

// Str appends a JSON string literal with minimal escaping: quote, backslash,
// and control characters only (no over-escaping of '/', unicode, etc, which
// would make the output depend on a particular JSON library's choices).
func (w *Writer) Str(s string) {
	w.buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			w.buf.WriteString(`\"`)
		case '\\':
			w.buf.WriteString(`\\`)
		case '\n':
			w.buf.WriteString(`\n`)
		case '\r':
			w.buf.WriteString(`\r`)
		case '\t':
			w.buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				w.buf.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				w.buf.WriteRune(r)
			}
		}
	}
	w.buf.WriteByte('"')
}

// Int appends a decimal integer with no leading zeros (strconv guarantees
// this) and no leading '+'.
func (w *Writer) Int(v int64) {
	w.buf.WriteString(strconv.FormatInt(v, 10))
}

// Uint appends a decimal unsigned integer with no leading zeros.
func (w *Writer) Uint(v uint64) {
	w.buf.WriteString(strconv.FormatUint(v, 10))
}

// Bool appends "true" or "false".
func (w *Writer) Bool(b bool) {
	if b {
		w.buf.WriteString("true")
	} else {
		w.buf.WriteString("false")
	}
}

// Null appends the JSON null literal.
func (w *Writer) Null() {
	w.buf.WriteString("null")
}

// Array writes n comma-separated elements, calling elem(i) for each. No
// trailing comma, no whitespace.
func (w *Writer) Array(n int, elem func(i int)) {
	w.buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		elem(i)
	}
	w.buf.WriteByte(']')
}

// Object writes an object with the given field names, in the given order,
// calling val(i) to emit the value for fields[i]. Order is the caller's
// responsibility — canon never sorts or reorders fields on its own, since
// the whole point is a single fixed order per type (see §3 of SPEC_FULL.md).
func (w *Writer) Object(fields []string, val func(i int)) {
	w.buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		w.Str(f)
		w.buf.WriteByte(':')
		val(i)
	}
	w.buf.WriteByte('}')
}
