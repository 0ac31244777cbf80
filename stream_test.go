package zpipe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// io Adapter Tests
// =============================================================================

func TestPipeWriter_Write(t *testing.T) {
	p := newTestPipe(t, Options{Pool: NewHeapPool(16), MinimumSegmentSize: 16})
	r, w := p.Reader(), p.Writer()

	input := strings.Repeat("segment spanning write ", 10)
	n, err := w.Write([]byte(input))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(input) {
		t.Errorf("Write returned %d, want %d", n, len(input))
	}

	result := mustRead(t, r)
	if result.Buffer.String() != input {
		t.Errorf("Read mismatch (length: got=%d, want=%d)", result.Buffer.Len(), len(input))
	}
}

func TestPipeWriter_WriteAfterReaderClosed(t *testing.T) {
	p := newTestPipe(t, Options{})
	r, w := p.Reader(), p.Writer()

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("nobody listens")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Write after reader Close = %v, want io.ErrClosedPipe", err)
	}
}

func TestPipeWriter_ReadFrom(t *testing.T) {
	p := newTestPipe(t, Options{PauseThreshold: NoBackpressure})
	r, w := p.Reader(), p.Writer()

	input := strings.Repeat("Z", 100*1024)
	n, err := w.ReadFrom(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if n != int64(len(input)) {
		t.Errorf("ReadFrom returned %d, want %d", n, len(input))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var output bytes.Buffer
	m, err := r.WriteTo(&output)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if m != int64(len(input)) || output.String() != input {
		t.Errorf("WriteTo = %d bytes, want %d", m, len(input))
	}
}

func TestPipeReader_WriteToReturnsWriterFault(t *testing.T) {
	p := newTestPipe(t, Options{})
	r, w := p.Reader(), p.Writer()
	boom := errors.New("source failed")

	w.Write([]byte("partial"))
	if err := w.CloseWithError(boom); err != nil {
		t.Fatalf("CloseWithError failed: %v", err)
	}

	var output bytes.Buffer
	n, err := r.WriteTo(&output)
	if !errors.Is(err, boom) {
		t.Errorf("WriteTo = %v, want %v", err, boom)
	}
	if n != 7 || output.String() != "partial" {
		t.Errorf("WriteTo wrote %d bytes %q, want %q", n, output.String(), "partial")
	}
}

func TestPipeWriter_CloseCommitsPending(t *testing.T) {
	p := newTestPipe(t, Options{})
	r, w := p.Reader(), p.Writer()

	writeChunks(t, w, "uncommitted")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	result := mustRead(t, r)
	if !result.Completed || result.Buffer.String() != "uncommitted" {
		t.Errorf("Read = %+v %q, want completed %q", result, result.Buffer.String(), "uncommitted")
	}
}

// =============================================================================
// StreamCopy Tests
// =============================================================================

func TestStreamCopy(t *testing.T) {
	input := strings.Repeat("X", 10*1024*1024) // 10MB
	reader := strings.NewReader(input)

	var output bytes.Buffer
	n, err := StreamCopy(context.Background(), &output, reader, Options{
		PauseThreshold:  256 * 1024,
		ReaderScheduler: Goroutine,
		WriterScheduler: Goroutine,
	})
	if err != nil {
		t.Fatalf("StreamCopy failed: %v", err)
	}
	if n != int64(len(input)) {
		t.Errorf("StreamCopy returned %d, want %d", n, len(input))
	}
	if output.Len() != len(input) {
		t.Errorf("StreamCopy output length = %d, want %d", output.Len(), len(input))
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestStreamCopy_SourceError(t *testing.T) {
	boom := errors.New("disk on fire")
	src := &failingReader{data: bytes.Repeat([]byte("a"), 64*1024), err: boom}

	var output bytes.Buffer
	n, err := StreamCopy(context.Background(), &output, src, Options{})
	if !errors.Is(err, boom) {
		t.Errorf("StreamCopy = %v, want %v", err, boom)
	}
	if n != 64*1024 {
		t.Errorf("StreamCopy copied %d bytes before failing, want %d", n, 64*1024)
	}
}

type failingWriter struct {
	limit int
	err   error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		n := w.limit
		w.limit = 0
		return n, w.err
	}
	w.limit -= len(p)
	return len(p), nil
}

func TestStreamCopy_DestinationError(t *testing.T) {
	boom := errors.New("connection reset")
	src := strings.NewReader(strings.Repeat("b", 1024*1024))

	_, err := StreamCopy(context.Background(), &failingWriter{limit: 100 * 1024, err: boom}, src, Options{
		PauseThreshold: 16 * 1024,
	})
	if !errors.Is(err, boom) {
		t.Errorf("StreamCopy = %v, want %v", err, boom)
	}
}

// blockingReader never returns until closed.
type blockingReader struct {
	once  chan struct{}
	close chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	select {
	case <-r.once:
		p[0] = 'x'
		return 1, nil
	case <-r.close:
		return 0, io.EOF
	}
}

func TestStreamCopy_ContextCancelled(t *testing.T) {
	src := &blockingReader{once: make(chan struct{}, 1), close: make(chan struct{})}
	src.once <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := StreamCopy(ctx, io.Discard, src, Options{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	// The source is outside the pipe's control; unblock it.
	close(src.close)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("StreamCopy = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StreamCopy did not stop after cancellation")
	}
}

func TestStreamCopy_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var output bytes.Buffer
	n, err := StreamCopy(ctx, &output, strings.NewReader("never copied"), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("StreamCopy = %v, want context.Canceled", err)
	}
	if n != 0 || output.Len() != 0 {
		t.Errorf("StreamCopy wrote %d bytes %q, want none", n, output.String())
	}
}

func TestPipeWriter_ReadFromStopsOnCancelledContext(t *testing.T) {
	p := newTestPipe(t, Options{})
	w := p.Writer()

	// The source ends right away, so nothing but ctx can stop the loop.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.readFrom(ctx, strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Errorf("readFrom = %v, want context.Canceled", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}

func TestPipeReader_WriteToStopsOnCancelledContext(t *testing.T) {
	p := newTestPipe(t, Options{})
	r, w := p.Reader(), p.Writer()

	// Data and completion are both ready; cancellation still wins.
	w.Write([]byte("ready"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var output bytes.Buffer
	if _, err := r.writeTo(ctx, &output); !errors.Is(err, context.Canceled) {
		t.Errorf("writeTo = %v, want context.Canceled", err)
	}
	if output.Len() != 0 {
		t.Errorf("writeTo wrote %q, want nothing", output.String())
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkStreamCopy(b *testing.B) {
	data := make([]byte, 4*1024*1024) // 4MB
	b.SetBytes(int64(len(data)))

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		StreamCopy(context.Background(), io.Discard, bytes.NewReader(data), Options{})
	}
}
