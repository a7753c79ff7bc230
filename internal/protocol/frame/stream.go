package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrWordTooLarge = errors.New("frame: word too large")
	ErrRemoteClosed = errors.New("frame: connection closed by remote end")
	ErrStreamClosed = errors.New("frame: stream closed")
)

// Limits constrains word decode memory use.
type Limits struct {
	MaxWordBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxWordBytes: 16 * 1024 * 1024,
	}
}

// Stream reads and writes length-prefixed words over a byte stream and groups
// them into zero-length terminated sentences. Only Close may be called
// concurrently with other methods.
type Stream struct {
	rw     io.ReadWriter
	r      *bufio.Reader
	limits Limits
	log    zerolog.Logger
	out    bytes.Buffer
	closed atomic.Bool
}

func NewStream(rw io.ReadWriter, limits Limits, log zerolog.Logger) *Stream {
	return &Stream{
		rw:     rw,
		r:      bufio.NewReader(rw),
		limits: limits,
		log:    log,
	}
}

// WriteWord writes one word and its length prefix.
func (s *Stream) WriteWord(word []byte) error {
	s.out.Reset()
	s.appendWord(word)
	return s.flush()
}

// ReadWord reads one complete word, looping over partial reads.
func (s *Stream) ReadWord() ([]byte, error) {
	if s.closed.Load() {
		return nil, protocol.NewConnectionError("read", ErrStreamClosed)
	}
	n, err := DecodeLength(s.r)
	if err != nil {
		if errors.Is(err, protocol.ErrFatal) {
			return nil, err
		}
		return nil, readError(err)
	}
	if s.limits.MaxWordBytes > 0 && n > s.limits.MaxWordBytes {
		return nil, &protocol.FatalError{
			Reason: fmt.Sprintf("word of %d bytes exceeds limit %d", n, s.limits.MaxWordBytes),
			Err:    ErrWordTooLarge,
		}
	}
	word := make([]byte, n)
	if _, err := io.ReadFull(s.r, word); err != nil {
		return nil, readError(err)
	}
	s.log.Trace().Str("dir", "<<<").Str("word", redact(word)).Msg("api word")
	return word, nil
}

// WriteSentence writes words followed by the zero-length terminator and
// returns the number of non-terminator words written.
func (s *Stream) WriteSentence(words [][]byte) (int, error) {
	s.out.Reset()
	for _, w := range words {
		s.appendWord(w)
	}
	s.appendWord(nil)
	if err := s.flush(); err != nil {
		return 0, err
	}
	return len(words), nil
}

// ReadSentence reads words up to the zero-length terminator. An empty result
// means an immediately terminated sentence.
func (s *Stream) ReadSentence() ([][]byte, error) {
	words := make([][]byte, 0, 4)
	for {
		w, err := s.ReadWord()
		if err != nil {
			return nil, err
		}
		if len(w) == 0 {
			return words, nil
		}
		words = append(words, w)
	}
}

// Ready blocks until at least one byte is buffered or the read fails. It
// consumes nothing.
func (s *Stream) Ready() error {
	if s.closed.Load() {
		return protocol.NewConnectionError("read", ErrStreamClosed)
	}
	if _, err := s.r.Peek(1); err != nil {
		return readError(err)
	}
	return nil
}

// Close marks the stream unusable and closes the underlying transport when it
// is an io.Closer.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Stream) Closed() bool {
	return s.closed.Load()
}

func (s *Stream) appendWord(word []byte) {
	if len(word) > 0 {
		s.log.Trace().Str("dir", ">>>").Str("word", redact(word)).Msg("api word")
	}
	n := uint32(len(word))
	s.out.Grow(encodedLen(n) + len(word))
	s.out.Write(AppendLength(s.out.AvailableBuffer(), n))
	s.out.Write(word)
}

func (s *Stream) flush() error {
	if s.closed.Load() {
		return protocol.NewConnectionError("write", ErrStreamClosed)
	}
	p := s.out.Bytes()
	for len(p) > 0 {
		n, err := s.rw.Write(p)
		if err != nil {
			return protocol.NewConnectionError("write", err)
		}
		if n == 0 {
			return protocol.NewConnectionError("write", ErrRemoteClosed)
		}
		p = p[n:]
	}
	return nil
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return protocol.NewConnectionError("read", ErrRemoteClosed)
	}
	return protocol.NewConnectionError("read", err)
}

var secretPrefixes = [][]byte{[]byte("=password="), []byte("=response=")}

func redact(word []byte) string {
	for _, p := range secretPrefixes {
		if bytes.HasPrefix(word, p) {
			return string(p) + "<redacted>"
		}
	}
	return string(word)
}
