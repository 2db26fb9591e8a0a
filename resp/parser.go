// Package resp implements the Redis serialization protocol: a streaming
// decoder and frame scanner for RESP2 and RESP3 replies, and an encoder for
// the command form of the protocol.
//
// The decoder is incremental. Parse inspects the front of a byte buffer and
// either returns a complete decoded Value with the number of bytes it
// consumed, or ErrIncomplete when more bytes are needed. Malformed input is
// reported as *ProtocolError and is permanent. Structural limits (element
// counts, nesting depth, payload sizes) are enforced from header lines,
// before any proportional allocation happens, so a hostile or corrupt
// length prefix cannot drive memory use.
package resp

import "strconv"

// Limits bounds the structures the decoder will build. The zero value is
// not usable; start from DefaultLimits.
type Limits struct {
	// MaxElements caps the declared element (or pair) count of any single
	// aggregate frame.
	MaxElements int

	// MaxDepth caps aggregate nesting.
	MaxDepth int

	// MaxBigNumber caps the digit count of a big-number frame.
	MaxBigNumber int

	// MaxBulkLen caps the declared payload length of bulk strings, bulk
	// errors, and verbatim strings.
	MaxBulkLen int64
}

// DefaultLimits returns the standard decoder limits: 16Mi elements per
// aggregate, 512 nesting levels, 10k big-number digits, 512 MiB payloads.
func DefaultLimits() Limits {
	return Limits{
		MaxElements:  16 * 1024 * 1024,
		MaxDepth:     512,
		MaxBigNumber: 10_000,
		MaxBulkLen:   512 * 1024 * 1024,
	}
}

// Parse decodes one complete frame from the front of buf.
//
// On success it returns the value and the number of bytes consumed; the
// caller advances its buffer by that amount (trailing bytes beyond the
// first frame are untouched). If buf ends before the frame does, Parse
// returns ErrIncomplete and the caller should read more bytes and retry.
// Bytes that can never form a valid frame yield a *ProtocolError.
//
// Bulk payloads in the returned value alias buf.
func Parse(buf []byte, limits Limits) (Value, int, error) {
	d := decoder{buf: buf, limits: limits}
	v, err := d.value(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

type decoder struct {
	buf    []byte
	pos    int
	limits Limits
}

// line returns the bytes up to the next CRLF, consuming the terminator.
// A CR not followed by LF is malformed; the protocol never allows a bare
// CR inside a header line.
func (d *decoder) line() ([]byte, error) {
	for i := d.pos; i < len(d.buf); i++ {
		if d.buf[i] != '\r' {
			continue
		}
		if i+1 >= len(d.buf) {
			return nil, ErrIncomplete
		}
		if d.buf[i+1] != '\n' {
			return nil, protoErr("CR without LF in line")
		}
		line := d.buf[d.pos:i]
		d.pos = i + 2
		return line, nil
	}
	return nil, ErrIncomplete
}

func (d *decoder) value(depth int) (Value, error) {
	if d.pos >= len(d.buf) {
		return Value{}, ErrIncomplete
	}
	typ := d.buf[d.pos]
	d.pos++

	switch typ {
	case '+':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeSimpleString, Str: string(line)}, nil

	case '-':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeSimpleError, Str: string(line)}, nil

	case ':':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		n, ok := parseInt(line)
		if !ok {
			return Value{}, protoErr("invalid integer %q", line)
		}
		return Value{Type: TypeInteger, Int: n}, nil

	case '_':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		if len(line) != 0 {
			return Value{}, protoErr("null frame carries payload %q", line)
		}
		return Value{Type: TypeNull}, nil

	case '#':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		switch {
		case len(line) == 1 && line[0] == 't':
			return Value{Type: TypeBoolean, Bool: true}, nil
		case len(line) == 1 && line[0] == 'f':
			return Value{Type: TypeBoolean, Bool: false}, nil
		}
		return Value{}, protoErr("invalid boolean %q", line)

	case ',':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		f, perr := strconv.ParseFloat(string(line), 64)
		if perr != nil {
			return Value{}, protoErr("invalid double %q", line)
		}
		return Value{Type: TypeDouble, Float: f}, nil

	case '(':
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		if len(line) > d.limits.MaxBigNumber {
			return Value{}, protoErr("big number exceeds %d digits", d.limits.MaxBigNumber)
		}
		if !validBigNumber(line) {
			return Value{}, protoErr("invalid big number %q", line)
		}
		return Value{Type: TypeBigNumber, Str: string(line)}, nil

	case '$':
		b, null, err := d.blob("bulk string")
		if err != nil {
			return Value{}, err
		}
		if null {
			return Value{Type: TypeNull}, nil
		}
		return Value{Type: TypeBulkString, Bulk: b}, nil

	case '!':
		b, null, err := d.blob("bulk error")
		if err != nil {
			return Value{}, err
		}
		if null {
			return Value{}, protoErr("bulk error cannot be null")
		}
		return Value{Type: TypeBulkError, Bulk: b}, nil

	case '=':
		b, null, err := d.blob("verbatim string")
		if err != nil {
			return Value{}, err
		}
		if null || len(b) < 4 || b[3] != ':' {
			return Value{}, protoErr("verbatim string missing format prefix")
		}
		return Value{Type: TypeVerbatim, Format: string(b[:3]), Str: string(b[4:])}, nil

	case '*':
		n, err := d.count("array")
		if err != nil {
			return Value{}, err
		}
		if n == -1 {
			return Value{Type: TypeNull}, nil
		}
		elems, err := d.elements(n, depth, "array")
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeArray, Elems: elems}, nil

	case '~':
		n, err := d.count("set")
		if err != nil {
			return Value{}, err
		}
		if n < 0 {
			return Value{}, protoErr("negative set length %d", n)
		}
		elems, err := d.elements(n, depth, "set")
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeSet, Elems: elems}, nil

	case '>':
		n, err := d.count("push")
		if err != nil {
			return Value{}, err
		}
		if n < 1 {
			return Value{}, protoErr("push frame must carry a kind (count %d)", n)
		}
		elems, err := d.elements(n, depth, "push")
		if err != nil {
			return Value{}, err
		}
		kind, ok := elems[0].AsStr()
		if !ok {
			return Value{}, protoErr("push kind is %s, want string", elems[0].Type)
		}
		return Value{Type: TypePush, Str: kind, Elems: elems[1:]}, nil

	case '%':
		pairs, err := d.pairs(depth, "map")
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeMap, Pairs: pairs}, nil

	case '|':
		pairs, err := d.pairs(depth, "attribute")
		if err != nil {
			return Value{}, err
		}
		inner, err := d.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeAttribute, Pairs: pairs, Inner: &inner}, nil
	}

	return Value{}, protoErr("unknown type byte 0x%02x", typ)
}

// blob reads a length-prefixed payload ($, !, =). null is true only for the
// RESP2 $-1 form.
func (d *decoder) blob(what string) (b []byte, null bool, err error) {
	line, err := d.line()
	if err != nil {
		return nil, false, err
	}
	n, ok := parseInt(line)
	if !ok {
		return nil, false, protoErr("invalid %s length %q", what, line)
	}
	if n == -1 {
		return nil, true, nil
	}
	if n < 0 {
		return nil, false, protoErr("negative %s length %d", what, n)
	}
	if n > d.limits.MaxBulkLen {
		return nil, false, protoErr("%s length %d exceeds limit %d", what, n, d.limits.MaxBulkLen)
	}
	end := d.pos + int(n)
	if end+2 > len(d.buf) {
		return nil, false, ErrIncomplete
	}
	if d.buf[end] != '\r' || d.buf[end+1] != '\n' {
		return nil, false, protoErr("%s payload not CRLF-terminated", what)
	}
	b = d.buf[d.pos:end]
	d.pos = end + 2
	return b, false, nil
}

// count reads and bounds-checks an aggregate header count. -1 is returned
// as-is; the array case gives it the legacy null meaning.
func (d *decoder) count(what string) (int, error) {
	line, err := d.line()
	if err != nil {
		return 0, err
	}
	n, ok := parseInt(line)
	if !ok {
		return 0, protoErr("invalid %s length %q", what, line)
	}
	if n < -1 {
		return 0, protoErr("negative %s length %d", what, n)
	}
	if n > int64(d.limits.MaxElements) {
		return 0, protoErr("%s length %d exceeds limit %d", what, n, d.limits.MaxElements)
	}
	return int(n), nil
}

func (d *decoder) elements(n, depth int, what string) ([]Value, error) {
	if depth+1 > d.limits.MaxDepth {
		return nil, protoErr("%s nested deeper than %d levels", what, d.limits.MaxDepth)
	}
	if n == 0 {
		return []Value{}, nil
	}
	elems := make([]Value, 0, min(n, 4096))
	for i := 0; i < n; i++ {
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return elems, nil
}

func (d *decoder) pairs(depth int, what string) ([]Pair, error) {
	n, err := d.count(what)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, protoErr("negative %s length %d", what, n)
	}
	if depth+1 > d.limits.MaxDepth {
		return nil, protoErr("%s nested deeper than %d levels", what, d.limits.MaxDepth)
	}
	pairs := make([]Pair, 0, min(n, 4096))
	for i := 0; i < n; i++ {
		k, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	return pairs, nil
}

// parseInt parses a signed base-10 integer with the protocol's strictness:
// an optional single sign followed by at least one digit, nothing else.
func parseInt(line []byte) (int64, bool) {
	if len(line) == 0 {
		return 0, false
	}
	i := 0
	neg := false
	if line[0] == '-' || line[0] == '+' {
		neg = line[0] == '-'
		i++
	}
	if i == len(line) {
		return 0, false
	}
	var n uint64
	for ; i < len(line); i++ {
		c := line[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		digit := uint64(c - '0')
		if n > (^uint64(0)-digit)/10 {
			return 0, false
		}
		n = n*10 + digit
	}
	if neg {
		if n > 1<<63 {
			return 0, false
		}
		return -int64(n), true
	}
	if n > 1<<63-1 {
		return 0, false
	}
	return int64(n), true
}

func validBigNumber(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	i := 0
	if line[0] == '-' || line[0] == '+' {
		i++
	}
	if i == len(line) {
		return false
	}
	for ; i < len(line); i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return true
}
