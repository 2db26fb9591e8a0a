package resp

// FrameLen reports the length in bytes of the first complete frame in buf
// without building any values. It is the cheap path for relaying raw
// replies: once the length is known the wire bytes can be handed on
// untouched.
//
// FrameLen follows the same discipline as Parse: ErrIncomplete while the
// frame is truncated, *ProtocolError for bytes that cannot frame at all.
// It validates only what framing requires (type bytes, length headers,
// payload terminators, nesting depth); scalar line contents are left to
// Parse.
func FrameLen(buf []byte, limits Limits) (int, error) {
	d := decoder{buf: buf, limits: limits}
	if err := d.skip(0); err != nil {
		return 0, err
	}
	return d.pos, nil
}

func (d *decoder) skip(depth int) error {
	if d.pos >= len(d.buf) {
		return ErrIncomplete
	}
	typ := d.buf[d.pos]
	d.pos++

	switch typ {
	case '+', '-', ':', '_', '#', ',', '(':
		_, err := d.line()
		return err

	case '$', '!', '=':
		_, _, err := d.blob("blob")
		return err

	case '*', '~', '>':
		n, err := d.count("aggregate")
		if err != nil {
			return err
		}
		if n <= 0 {
			// *-1 legacy null, or empty
			return nil
		}
		return d.skipN(n, depth)

	case '%', '|':
		n, err := d.count("aggregate")
		if err != nil {
			return err
		}
		if n < 0 {
			return protoErr("negative aggregate length %d", n)
		}
		if err := d.skipN(2*n, depth); err != nil {
			return err
		}
		if typ == '|' {
			// attribute decorates one trailing value
			return d.skip(depth + 1)
		}
		return nil
	}

	return protoErr("unknown type byte 0x%02x", typ)
}

func (d *decoder) skipN(n, depth int) error {
	if depth+1 > d.limits.MaxDepth {
		return protoErr("frame nested deeper than %d levels", d.limits.MaxDepth)
	}
	for i := 0; i < n; i++ {
		if err := d.skip(depth + 1); err != nil {
			return err
		}
	}
	return nil
}
