package frame

import (
	"bufio"
	"io"

	"github.com/nyxhq/ravel/internal/core/domain"
	"github.com/nyxhq/ravel/pkg/pool"
)

type chunkBuffer struct {
	b []byte
}

func (c *chunkBuffer) Reset() {
	// Reused as-is; contents are fully overwritten by the next Read before
	// any byte is inspected, so zeroing here would be wasted work.
}

var bufPool = pool.NewLitePool(func() *chunkBuffer {
	return &chunkBuffer{b: make([]byte, DefaultChunkSize)}
})

// CopyBody streams a request or response body from src to dst according to
// kind, in chunks of at most DefaultChunkSize bytes, and returns the number
// of bytes copied. For BodyNone it is a no-op. For BodyLength it copies
// exactly length bytes or fails with PeerClosed on short read. For
// BodyUntilClose it copies until io.EOF, which is not an error.
func CopyBody(dst io.Writer, src *bufio.Reader, kind domain.BodyKind, length int64) (int64, error) {
	switch kind {
	case domain.BodyNone:
		return 0, nil
	case domain.BodyLength:
		return copyExactly(dst, src, length)
	case domain.BodyUntilClose:
		return copyUntilEOF(dst, src)
	default:
		return 0, nil
	}
}

func copyExactly(dst io.Writer, src io.Reader, length int64) (int64, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	// dst is wrapped so io.CopyBuffer cannot hand off to a ReaderFrom and
	// bypass the pooled, DefaultChunkSize-bounded buffer.
	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, io.LimitReader(src, length), buf.b)
	if err != nil {
		return n, err
	}
	if n != length {
		return n, domain.NewError(domain.KindPeerClosed, "copy_body_exactly", "", io.ErrUnexpectedEOF)
	}
	return n, nil
}

func copyUntilEOF(dst io.Writer, src io.Reader) (int64, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	// Both ends are wrapped so io.CopyBuffer cannot hand off to a WriterTo
	// (a *bufio.Reader is one) or a ReaderFrom and bypass the pooled buffer.
	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf.b)
	if err == io.EOF {
		err = nil
	}
	return n, err
}
