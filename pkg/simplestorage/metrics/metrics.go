// Package metrics instruments blob stores with Prometheus counters and
// latency histograms.
package metrics

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// Result label values
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds the collectors shared by every instrumented store
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simplestorage_blob_operations_total",
				Help: "Blob store operations by backend, operation and result",
			},
			[]string{"backend", "op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simplestorage_blob_operation_duration_seconds",
				Help:    "Blob store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
	}
	m.registry.MustRegister(m.operations, m.duration)
	return m
}

// Registry exposes the registry for HTTP handlers or tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Operations returns the operation counter
func (m *Metrics) Operations() *prometheus.CounterVec {
	return m.operations
}

// WritePrometheus writes all metrics in the text exposition format
func (m *Metrics) WritePrometheus(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// Instrument wraps store so every call is counted and timed under the
// backend label. Optional metadata capabilities of store are preserved.
func (m *Metrics) Instrument(backend string, store simplestorage.BlobStore) simplestorage.BlobStore {
	s := &instrumentedStore{inner: store, metrics: m, backend: backend}
	if w, ok := store.(simplestorage.MetadataWriter); ok {
		return &instrumentedWriter{instrumentedStore: s, writer: w}
	}
	return s
}

// track starts timing op. The returned func records the outcome held in
// *errp and must be deferred.
func (m *Metrics) track(backend, op string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		result := ResultOK
		switch err := *errp; {
		case errors.Is(err, simplestorage.ErrNotFound):
			result = ResultNotFound
		case err != nil:
			result = ResultError
		}
		m.operations.WithLabelValues(backend, op, result).Inc()
		m.duration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	}
}

type instrumentedStore struct {
	inner   simplestorage.BlobStore
	metrics *Metrics
	backend string
}

func (s *instrumentedStore) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (_ *simplestorage.BlobInfo, err error) {
	defer s.metrics.track(s.backend, "put")(&err)
	return s.inner.Put(ctx, key, reader, params)
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (_ io.ReadCloser, _ *simplestorage.BlobInfo, err error) {
	defer s.metrics.track(s.backend, "get")(&err)
	return s.inner.Get(ctx, key)
}

func (s *instrumentedStore) Head(ctx context.Context, key string) (_ *simplestorage.BlobInfo, err error) {
	defer s.metrics.track(s.backend, "head")(&err)
	return s.inner.Head(ctx, key)
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) (_ bool, err error) {
	defer s.metrics.track(s.backend, "delete")(&err)
	return s.inner.Delete(ctx, key)
}

func (s *instrumentedStore) List(ctx context.Context, prefix string) (_ []simplestorage.ListEntry, err error) {
	defer s.metrics.track(s.backend, "list")(&err)
	return s.inner.List(ctx, prefix)
}

func (s *instrumentedStore) Copy(ctx context.Context, src, dst string) (err error) {
	defer s.metrics.track(s.backend, "copy")(&err)
	return s.inner.Copy(ctx, src, dst)
}

func (s *instrumentedStore) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer s.metrics.track(s.backend, "exists")(&err)
	return s.inner.Exists(ctx, key)
}

func (s *instrumentedStore) MetadataLimit() int {
	if l, ok := s.inner.(simplestorage.MetadataLimiter); ok {
		return l.MetadataLimit()
	}
	return 0
}

type instrumentedWriter struct {
	*instrumentedStore
	writer simplestorage.MetadataWriter
}

func (s *instrumentedWriter) SetMetadata(ctx context.Context, key string, metadata map[string]string) (_ *simplestorage.BlobInfo, err error) {
	defer s.metrics.track(s.backend, "set_metadata")(&err)
	return s.writer.SetMetadata(ctx, key, metadata)
}
