// Package kfmt provides formatted diagnostic output for code that runs before
// (or without) the Go allocator.
package kfmt

import (
	"io"
	"unicode/utf8"
	"unsafe"
)

// numBufLen bounds the length of a formatted integer including its padding
// and sign.
const numBufLen = 32

const digits = "0123456789abcdef"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// Formatted values are assembled in static storage.
	numBuf  [numBufLen]byte
	runeBuf [utf8.UTFMax]byte
	byteBuf [1]byte

	// earlyOutput receives everything written while outputSink is nil.
	earlyOutput earlyBuffer

	// outputSink is the default destination of Printf.
	outputSink io.Writer
)

// SetOutputSink makes w the destination of Printf and replays any output
// buffered while no sink was attached. Passing nil buffers again.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w == nil {
		return
	}

	if lost := earlyOutput.flushTo(w); lost != 0 {
		Fprintf(w, "[kfmt] %d bytes of early output lost\n", lost)
	}
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats its arguments to the output sink. It never allocates so it
// is safe to call from interrupt handlers and before the Go runtime is
// initialized.
//
// The supported verbs are:
//
//	%s  string or []byte
//	%d  integer, base 10
//	%o  integer, base 8
//	%x  integer, base 16 with lower-case letters
//	%t  bool
//	%c  byte or rune, UTF-8 encoded
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Strings and base 10 integers are
// padded with spaces; base 8 and 16 integers are padded with zeroes. No
// argument is ever checked for a String method, as itables may not be
// initialized yet, and %p is not available because it needs reflection.
//
// Formatting problems are reported inline the way fmt does: %!(NOVERB),
// %!(WRONGTYPE), (MISSING) and %!(EXTRA).
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf is Printf with an explicit destination. A nil w writes to the
// early output buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex  int
		textStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		if textStart < i {
			writeTo(w, stringBytes(format[textStart:i]))
		}

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		textStart = i + 1

		if i == len(format) {
			writeTo(w, errNoVerb)
			break
		}

		switch verb := format[i]; {
		case verb == '%':
			putByte(w, '%')
		case !isVerb(verb):
			writeTo(w, errNoVerb)
		case argIndex == len(args):
			writeTo(w, errMissingArg)
		default:
			formatArg(w, verb, width, args[argIndex])
			argIndex++
		}
	}

	if textStart < len(format) {
		writeTo(w, stringBytes(format[textStart:]))
	}

	for ; argIndex < len(args); argIndex++ {
		writeTo(w, errExtraArg)
	}
}

func isVerb(ch byte) bool {
	switch ch {
	case 's', 'd', 'o', 'x', 't', 'c':
		return true
	}
	return false
}

func formatArg(w io.Writer, verb byte, width int, arg interface{}) {
	switch verb {
	case 's':
		formatString(w, arg, width)
	case 'd':
		formatInt(w, arg, 10, width)
	case 'o':
		formatInt(w, arg, 8, width)
	case 'x':
		formatInt(w, arg, 16, width)
	case 't':
		formatBool(w, arg)
	case 'c':
		formatChar(w, arg)
	}
}

func formatBool(w io.Writer, arg interface{}) {
	b, ok := arg.(bool)
	switch {
	case !ok:
		writeTo(w, errWrongArgType)
	case b:
		writeTo(w, trueValue)
	default:
		writeTo(w, falseValue)
	}
}

// formatChar writes the UTF-8 encoding of a byte or rune. Invalid runes are
// written as U+FFFD.
func formatChar(w io.Writer, arg interface{}) {
	var r rune
	switch v := arg.(type) {
	case uint8:
		r = rune(v)
	case rune:
		r = v
	default:
		writeTo(w, errWrongArgType)
		return
	}

	n := utf8.EncodeRune(runeBuf[:], r)
	writeTo(w, runeBuf[:n])
}

func formatString(w io.Writer, arg interface{}, width int) {
	var b []byte
	switch v := arg.(type) {
	case string:
		b = stringBytes(v)
	case []byte:
		b = v
	default:
		writeTo(w, errWrongArgType)
		return
	}

	for n := len(b); n < width; n++ {
		putByte(w, ' ')
	}
	writeTo(w, b)
}

// formatInt writes arg in the requested base. The sign of a base 10 value
// sits next to its digits, after any space padding. Base 8 and 16 values
// place the sign before the zero padding.
func formatInt(w io.Writer, arg interface{}, base uint64, width int) {
	mag, neg, ok := integerValue(arg)
	if !ok {
		writeTo(w, errWrongArgType)
		return
	}

	if width > numBufLen-1 {
		width = numBufLen - 1
	}

	pad := byte('0')
	if base == 10 {
		pad = ' '
	}

	// digits are produced right to left
	pos := len(numBuf)
	for {
		pos--
		numBuf[pos] = digits[mag%base]
		if mag /= base; mag == 0 {
			break
		}
	}

	if neg && pad == ' ' {
		pos--
		numBuf[pos] = '-'
	}
	for len(numBuf)-pos < width {
		pos--
		numBuf[pos] = pad
	}
	if neg && pad == '0' {
		pos--
		numBuf[pos] = '-'
	}

	writeTo(w, numBuf[pos:])
}

// integerValue returns the magnitude and sign of any built-in integer type.
func integerValue(arg interface{}) (mag uint64, neg, ok bool) {
	var signed int64
	switch v := arg.(type) {
	case uint8:
		return uint64(v), false, true
	case uint16:
		return uint64(v), false, true
	case uint32:
		return uint64(v), false, true
	case uint64:
		return v, false, true
	case uint:
		return uint64(v), false, true
	case uintptr:
		return uint64(v), false, true
	case int8:
		signed = int64(v)
	case int16:
		signed = int64(v)
	case int32:
		signed = int64(v)
	case int64:
		signed = v
	case int:
		signed = int64(v)
	default:
		return 0, false, false
	}

	if signed < 0 {
		return uint64(-signed), true, true
	}
	return uint64(signed), false, true
}

// stringBytes returns a slice aliasing the bytes of s. Converting with
// []byte(s) would allocate a copy.
func stringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func putByte(w io.Writer, b byte) {
	byteBuf[0] = b
	writeTo(w, byteBuf[:])
}

// writeTo forwards p to w or, if w is nil, to the early output buffer. The
// escape analysis cannot see through the interface call and would move every
// Fprintf argument to the heap, so p is passed through noEscape.
func writeTo(w io.Writer, p []byte) {
	hidden := (*[]byte)(noEscape(unsafe.Pointer(&p)))
	if w == nil {
		earlyOutput.Write(*hidden)
		return
	}
	w.Write(*hidden)
}

// noEscape hides a pointer from escape analysis. It mirrors the helper in
// runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
