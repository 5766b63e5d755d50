package content

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/siafuse/pkg/metrics"
)

// Instrument wraps store so every call is reported to m. The optional
// Lister, StatsReporter and io.Closer interfaces are forwarded when the
// wrapped store implements them.
func Instrument(store Store, m metrics.ContentMetrics) Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{store: store, metrics: m}
}

type instrumentedStore struct {
	store   Store
	metrics metrics.ContentMetrics
}

func (s *instrumentedStore) Create(ctx context.Context) (ID, error) {
	start := time.Now()
	id, err := s.store.Create(ctx)
	s.metrics.ObserveOperation("create", time.Since(start), err)
	return id, err
}

func (s *instrumentedStore) ReadAt(ctx context.Context, id ID, offset int64, length int) ([]byte, error) {
	start := time.Now()
	data, err := s.store.ReadAt(ctx, id, offset, length)
	s.metrics.ObserveOperation("read", time.Since(start), err)
	s.metrics.RecordBytes("read", len(data))
	return data, err
}

func (s *instrumentedStore) WriteAt(ctx context.Context, id ID, data []byte, offset int64) (int, error) {
	start := time.Now()
	n, err := s.store.WriteAt(ctx, id, data, offset)
	s.metrics.ObserveOperation("write", time.Since(start), err)
	s.metrics.RecordBytes("write", n)
	return n, err
}

func (s *instrumentedStore) Truncate(ctx context.Context, id ID, size uint64) error {
	start := time.Now()
	err := s.store.Truncate(ctx, id, size)
	s.metrics.ObserveOperation("truncate", time.Since(start), err)
	return err
}

func (s *instrumentedStore) Destroy(ctx context.Context, id ID) error {
	start := time.Now()
	err := s.store.Destroy(ctx, id)
	s.metrics.ObserveOperation("destroy", time.Since(start), err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context) ([]ID, error) {
	lister, ok := s.store.(Lister)
	if !ok {
		return nil, ErrNotSupported
	}
	return lister.List(ctx)
}

func (s *instrumentedStore) Stats(ctx context.Context) (*Stats, error) {
	reporter, ok := s.store.(StatsReporter)
	if !ok {
		return nil, ErrNotSupported
	}
	return reporter.Stats(ctx)
}

func (s *instrumentedStore) Close() error {
	if closer, ok := s.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Unwrap returns the instrumented store.
func (s *instrumentedStore) Unwrap() Store {
	return s.store
}
