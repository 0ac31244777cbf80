package zpipe

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
)

// StreamCopy copies src to dst through a pipe configured by opts. Reading and
// writing run on separate goroutines, so a slow dst applies backpressure to
// src instead of growing memory past the pause threshold.
//
// It returns the number of bytes written to dst and the first error from
// either side. Cancelling ctx stops the copy at the next read or flush.
func StreamCopy(ctx context.Context, dst io.Writer, src io.Reader, opts Options) (int64, error) {
	p, err := NewPipe(opts)
	if err != nil {
		return 0, err
	}
	r, w := p.Reader(), p.Writer()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := w.readFrom(ctx, src)
		if cerr := w.CloseWithError(err); err == nil {
			err = cerr
		}
		// The reader only goes away early on its own error, which it reports.
		if errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	})

	var written int64
	g.Go(func() error {
		var err error
		written, err = r.writeTo(ctx, dst)
		if cerr := r.CloseWithError(err); err == nil {
			err = cerr
		}
		return err
	})

	return written, g.Wait()
}
