package resp

import (
	"math"
	"strconv"
)

// Commands travel as arrays of bulk strings: *<argc>\r\n then each argument
// as $<len>\r\n<bytes>\r\n. Arguments are binary-safe; CR/LF inside an
// argument is carried verbatim under its length prefix.

// AppendCommand appends the wire encoding of one command to dst and returns
// the extended slice.
func AppendCommand(dst []byte, args ...string) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, arg := range args {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, arg...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// EncodeCommand encodes one command into a fresh buffer sized up front, so
// the common case is a single allocation.
func EncodeCommand(args ...string) []byte {
	return AppendCommand(make([]byte, 0, commandSize(args)), args...)
}

// EncodePipeline concatenates the encodings of every command into one
// contiguous buffer. The caller issues a single write for the whole batch;
// replies come back in command order.
func EncodePipeline(cmds [][]string) []byte {
	size := 0
	for _, args := range cmds {
		size += commandSize(args)
	}
	buf := make([]byte, 0, size)
	for _, args := range cmds {
		buf = AppendCommand(buf, args...)
	}
	return buf
}

// commandSize is an upper bound on the encoded size of one command:
// a header per frame ('*' or '$', up to 20 length digits, CRLF) plus each
// argument's bytes and terminator.
func commandSize(args []string) int {
	n := 1 + 20 + 2
	for _, arg := range args {
		n += 1 + 20 + 2 + len(arg) + 2
	}
	return n
}

// AppendValue appends the RESP3 encoding of v to dst. Every decoded Value
// round-trips: Parse(AppendValue(nil, v)) yields a value Equal to v. Nulls
// always encode as the RESP3 _\r\n form; the RESP2 $-1/*-1 legacy nulls
// decode to the same Value and therefore normalize on re-encode.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString:
		dst = append(dst, '+')
		dst = append(dst, v.Str...)
		return crlf(dst)
	case TypeSimpleError:
		dst = append(dst, '-')
		dst = append(dst, v.Str...)
		return crlf(dst)
	case TypeInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
		return crlf(dst)
	case TypeNull:
		return crlf(append(dst, '_'))
	case TypeBoolean:
		if v.Bool {
			return crlf(append(dst, '#', 't'))
		}
		return crlf(append(dst, '#', 'f'))
	case TypeDouble:
		dst = append(dst, ',')
		dst = appendDouble(dst, v.Float)
		return crlf(dst)
	case TypeBigNumber:
		dst = append(dst, '(')
		dst = append(dst, v.Str...)
		return crlf(dst)
	case TypeBulkString:
		return appendBlob(dst, '$', v.Bulk)
	case TypeBulkError:
		return appendBlob(dst, '!', v.Bulk)
	case TypeVerbatim:
		dst = append(dst, '=')
		dst = strconv.AppendInt(dst, int64(len(v.Format)+1+len(v.Str)), 10)
		dst = crlf(dst)
		dst = append(dst, v.Format...)
		dst = append(dst, ':')
		dst = append(dst, v.Str...)
		return crlf(dst)
	case TypeArray:
		return appendAggregate(dst, '*', v.Elems)
	case TypeSet:
		return appendAggregate(dst, '~', v.Elems)
	case TypePush:
		dst = append(dst, '>')
		dst = strconv.AppendInt(dst, int64(len(v.Elems)+1), 10)
		dst = crlf(dst)
		dst = AppendValue(dst, BulkStr(v.Str))
		for _, e := range v.Elems {
			dst = AppendValue(dst, e)
		}
		return dst
	case TypeMap:
		return appendPairs(dst, '%', v.Pairs)
	case TypeAttribute:
		dst = appendPairs(dst, '|', v.Pairs)
		inner := Null()
		if v.Inner != nil {
			inner = *v.Inner
		}
		return AppendValue(dst, inner)
	}
	return dst
}

func crlf(dst []byte) []byte { return append(dst, '\r', '\n') }

func appendBlob(dst []byte, typ byte, b []byte) []byte {
	dst = append(dst, typ)
	dst = strconv.AppendInt(dst, int64(len(b)), 10)
	dst = crlf(dst)
	dst = append(dst, b...)
	return crlf(dst)
}

func appendAggregate(dst []byte, typ byte, elems []Value) []byte {
	dst = append(dst, typ)
	dst = strconv.AppendInt(dst, int64(len(elems)), 10)
	dst = crlf(dst)
	for _, e := range elems {
		dst = AppendValue(dst, e)
	}
	return dst
}

func appendPairs(dst []byte, typ byte, pairs []Pair) []byte {
	dst = append(dst, typ)
	dst = strconv.AppendInt(dst, int64(len(pairs)), 10)
	dst = crlf(dst)
	for _, p := range pairs {
		dst = AppendValue(dst, p.Key)
		dst = AppendValue(dst, p.Value)
	}
	return dst
}

func appendDouble(dst []byte, f float64) []byte {
	switch {
	case math.IsInf(f, 1):
		return append(dst, "inf"...)
	case math.IsInf(f, -1):
		return append(dst, "-inf"...)
	case math.IsNaN(f):
		return append(dst, "nan"...)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64)
}
