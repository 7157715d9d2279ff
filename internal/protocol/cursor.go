package protocol

// cursor walks a response buffer. Every read is bounds-checked so a short
// buffer surfaces as a failed read instead of a slice panic.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte, pos int) *cursor {
	return &cursor{buf: buf, pos: pos}
}

// take returns the next n bytes and advances past them.
func (c *cursor) take(n int) ([]byte, bool) {
	if n < 0 || c.pos < 0 || c.pos > len(c.buf) || len(c.buf)-c.pos < n {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

// peek returns the byte under the cursor without advancing.
func (c *cursor) peek() (byte, bool) {
	if c.pos < 0 || c.pos >= len(c.buf) {
		return 0, false
	}
	return c.buf[c.pos], true
}

// skip advances by n bytes. Moving past the end is allowed; the next take fails.
func (c *cursor) skip(n int) {
	c.pos += n
}

// rest returns whatever is left from the cursor to the end of the buffer.
func (c *cursor) rest() []byte {
	if c.pos >= len(c.buf) {
		return nil
	}
	return c.buf[c.pos:]
}
