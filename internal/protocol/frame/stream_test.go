package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/danmuck/rosctl/internal/protocol"
	"github.com/danmuck/rosctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

type splitRW struct {
	io.Reader
	io.Writer
}

// chunkWriter accepts at most max bytes per Write call.
type chunkWriter struct {
	buf   bytes.Buffer
	max   int
	calls int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}

type zeroWriter struct{}

func (zeroWriter) Write(p []byte) (int, error) { return 0, nil }

func newTestStream(rw io.ReadWriter) *Stream {
	return NewStream(rw, DefaultLimits(), zerolog.Nop())
}

func TestWordRoundTrip(t *testing.T) {
	testlog.Start(t)
	words := [][]byte{
		{},
		[]byte("a"),
		bytes.Repeat([]byte{'x'}, 0x7F),
		bytes.Repeat([]byte{'y'}, 0x80),
		bytes.Repeat([]byte{0x00, 0xFF}, 0x2001),
	}
	for _, w := range words {
		var buf bytes.Buffer
		s := newTestStream(&buf)
		if err := s.WriteWord(w); err != nil {
			t.Fatalf("write word len=%d: %v", len(w), err)
		}
		got, err := s.ReadWord()
		if err != nil {
			t.Fatalf("read word len=%d: %v", len(w), err)
		}
		if !bytes.Equal(got, w) {
			t.Fatalf("word mismatch len got=%d want=%d", len(got), len(w))
		}
	}
}

func TestSentenceFraming(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	s := newTestStream(&buf)
	in := [][]byte{[]byte("/interface/print"), []byte("=.proplist=name"), []byte("?type=ether")}
	n, err := s.WriteSentence(in)
	if err != nil {
		t.Fatalf("write sentence: %v", err)
	}
	if n != len(in) {
		t.Fatalf("written got=%d want=%d", n, len(in))
	}
	if _, err := s.WriteSentence(nil); err != nil {
		t.Fatalf("write empty sentence: %v", err)
	}

	out, err := s.ReadSentence()
	if err != nil {
		t.Fatalf("read sentence: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("sentence length got=%d want=%d", len(out), len(in))
	}
	for i := range in {
		if !bytes.Equal(out[i], in[i]) {
			t.Fatalf("word[%d] got=%q want=%q", i, out[i], in[i])
		}
	}
	empty, err := s.ReadSentence()
	if err != nil {
		t.Fatalf("read empty sentence: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty sentence, got %q", empty)
	}
}

func TestWriteSentenceEmptyWritesOnlyTerminator(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	n, err := newTestStream(&buf).WriteSentence(nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 words written, got=%d", n)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x00}) {
		t.Fatalf("unexpected bytes: % x", buf.Bytes())
	}
}

func TestReadWordFragmentedReads(t *testing.T) {
	testlog.Start(t)
	word := bytes.Repeat([]byte("fragment"), 40)
	var wire bytes.Buffer
	wire.Write(EncodeLength(uint32(len(word))))
	wire.Write(word)

	s := newTestStream(splitRW{Reader: iotest.OneByteReader(&wire), Writer: io.Discard})
	got, err := s.ReadWord()
	if err != nil {
		t.Fatalf("read word: %v", err)
	}
	if !bytes.Equal(got, word) {
		t.Fatalf("fragmented word mismatch")
	}
}

func TestWriteWordPartialWrites(t *testing.T) {
	testlog.Start(t)
	w := &chunkWriter{max: 3}
	s := newTestStream(splitRW{Reader: bytes.NewReader(nil), Writer: w})
	word := []byte("=comment=partial writes are not errors")
	if err := s.WriteWord(word); err != nil {
		t.Fatalf("write word: %v", err)
	}
	if w.calls < 2 {
		t.Fatalf("expected several write calls, got=%d", w.calls)
	}
	got, err := newTestStream(&w.buf).ReadWord()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, word) {
		t.Fatalf("got=%q want=%q", got, word)
	}
}

func TestWriteWordZeroByteWriteIsConnectionError(t *testing.T) {
	testlog.Start(t)
	s := newTestStream(splitRW{Reader: bytes.NewReader(nil), Writer: zeroWriter{}})
	err := s.WriteWord([]byte("/system/identity/print"))
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !errors.Is(err, ErrRemoteClosed) {
		t.Fatalf("expected ErrRemoteClosed, got %v", err)
	}
}

func TestReadWordRemoteClosedMidWord(t *testing.T) {
	testlog.Start(t)
	wire := append(EncodeLength(5), 'a', 'b')
	_, err := newTestStream(bytes.NewBuffer(wire)).ReadWord()
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestReadWordOverLimitIsFatal(t *testing.T) {
	testlog.Start(t)
	wire := EncodeLength(1024)
	s := NewStream(bytes.NewBuffer(wire), Limits{MaxWordBytes: 512}, zerolog.Nop())
	_, err := s.ReadWord()
	if !errors.Is(err, protocol.ErrFatal) || !errors.Is(err, ErrWordTooLarge) {
		t.Fatalf("expected fatal ErrWordTooLarge, got %v", err)
	}
}

func TestClosedStreamRejectsIO(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	s := newTestStream(&buf)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.Closed() {
		t.Fatalf("expected closed stream")
	}
	if err := s.WriteWord([]byte("x")); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("write after close: expected ErrConnection, got %v", err)
	}
	if _, err := s.ReadWord(); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("read after close: expected ErrConnection, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("closed stream wrote %d bytes", buf.Len())
	}
}

func TestRedactSecretWords(t *testing.T) {
	testlog.Start(t)
	if got := redact([]byte("=password=hunter2")); got != "=password=<redacted>" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if got := redact([]byte("=name=admin")); got != "=name=admin" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}
