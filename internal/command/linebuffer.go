package command

import "errors"

// ErrLineOverflow marks a line that outgrew the buffer and was discarded.
var ErrLineOverflow = errors.New("command line too long")

const (
	charNUL       = 0x00
	charBackspace = 0x08
	charLF        = 0x0A
	charCR        = 0x0D
	charDelete    = 0x7F
)

// LineBuffer accumulates protocol bytes until a line terminator arrives.
// It is owned by a single session and is not safe for concurrent use.
type LineBuffer struct {
	buf      []byte
	max      int
	overflow bool
}

func NewLineBuffer(max int) *LineBuffer {
	return &LineBuffer{
		buf: make([]byte, 0, max),
		max: max,
	}
}

// Add consumes one byte. It reports done when b terminates a line; the
// returned line is then the accumulated text, or ErrLineOverflow if the
// buffer filled up before the terminator. The buffer is cleared either way.
func (lb *LineBuffer) Add(b byte) (line string, done bool, err error) {
	switch b {
	case charNUL:
		return "", false, nil
	case charCR, charLF:
		line, err = string(lb.buf), nil
		if lb.overflow {
			line, err = "", ErrLineOverflow
		}
		lb.Reset()
		return line, true, err
	case charBackspace, charDelete:
		if len(lb.buf) > 0 {
			lb.buf = lb.buf[:len(lb.buf)-1]
		}
		return "", false, nil
	}

	if len(lb.buf) >= lb.max {
		lb.overflow = true
		return "", false, nil
	}
	lb.buf = append(lb.buf, b)
	return "", false, nil
}

func (lb *LineBuffer) Len() int {
	return len(lb.buf)
}

func (lb *LineBuffer) Overflowed() bool {
	return lb.overflow
}

func (lb *LineBuffer) Reset() {
	lb.buf = lb.buf[:0]
	lb.overflow = false
}
