// Package testutils holds an in-memory Source plus a conformance
// harness shared by the provider test suites.
package testutils

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
)

var (
	_ datamux.Source     = (*MockSource)(nil)
	_ datamux.HTTPSource = (*MockSource)(nil)
)

// MockSource is an in-memory Source with a fixed, sorted key order.
type MockSource struct {
	name    string
	keys    []string
	objects map[string][]byte

	// Err, when set, is returned by the iterator after FailAfter
	// samples (FailAfter 0 fails the Samples call itself).
	Err       error
	FailAfter int

	// BoundClient records the client handed to WithHTTPClient.
	BoundClient *http.Client

	listCalls int64
}

// NewMockSource creates a source named name over the given objects.
func NewMockSource(name string, objects map[string][]byte) *MockSource {
	keys := make([]string, 0, len(objects))
	for k := range objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &MockSource{name: name, keys: keys, objects: objects}
}

// NewKeysSource creates a source over keys with empty bodies.
func NewKeysSource(name string, keys ...string) *MockSource {
	objects := make(map[string][]byte, len(keys))
	for _, k := range keys {
		objects[k] = nil
	}
	return NewMockSource(name, objects)
}

func (m *MockSource) Name() string   { return m.name }
func (m *MockSource) String() string { return m.name }

// ListCalls reports how many times Samples has been called, so tests
// can assert that every pass re-lists from scratch.
func (m *MockSource) ListCalls() int {
	return int(atomic.LoadInt64(&m.listCalls))
}

// Samples lists the in-memory keys under prefix in sorted order.
func (m *MockSource) Samples(ctx context.Context, prefix string) (datamux.SampleIterator, error) {
	atomic.AddInt64(&m.listCalls, 1)
	if m.Err != nil && m.FailAfter <= 0 {
		return nil, m.Err
	}
	var samples []datamux.Sample
	for _, k := range m.keys {
		if strings.HasPrefix(k, prefix) {
			samples = append(samples, &MockSample{source: m, key: k})
		}
	}
	return &mockIterator{ctx: ctx, samples: samples, err: m.Err, failAfter: m.FailAfter}, nil
}

// WithHTTPClient records the bound client on a derived copy.
func (m *MockSource) WithHTTPClient(hc *http.Client) datamux.Source {
	derived := *m
	derived.BoundClient = hc
	return &derived
}

// MockSample is a sample over an in-memory body.
type MockSample struct {
	source *MockSource
	key    string
}

func (s *MockSample) Key() string    { return s.key }
func (s *MockSample) Source() string { return s.source.name }
func (s *MockSample) Size() int64    { return int64(len(s.source.objects[s.key])) }

func (s *MockSample) Open(ctx context.Context) (io.ReadCloser, error) {
	return ioutil.NopCloser(bytes.NewReader(s.source.objects[s.key])), nil
}

type mockIterator struct {
	ctx       context.Context
	samples   []datamux.Sample
	cursor    int
	err       error
	failAfter int
}

func (it *mockIterator) Next() (datamux.Sample, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}
	if it.err != nil && it.cursor >= it.failAfter {
		return nil, it.err
	}
	if it.cursor >= len(it.samples) {
		return nil, iterator.Done
	}
	s := it.samples[it.cursor]
	it.cursor++
	return s, nil
}

func (it *mockIterator) Close() error {
	it.cursor = len(it.samples)
	return nil
}

// Keys drains it and returns the sample keys in order.
func Keys(it datamux.SampleIterator) ([]string, error) {
	defer it.Close()
	var keys []string
	for {
		s, err := it.Next()
		if err == iterator.Done {
			return keys, nil
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, s.Key())
	}
}

// RunSourceTests is the conformance suite every Source implementation
// must pass:  deterministic listing order, honest prefix filtering,
// samples attributed to the source.
func RunSourceTests(t *testing.T, src datamux.Source) {
	ctx := context.Background()

	it, err := src.Samples(ctx, "")
	require.NoError(t, err)
	first, err := Keys(it)
	require.NoError(t, err)
	require.NotEmpty(t, first, "conformance suite needs a non-empty source")

	// A second pass must see the exact same order, the worker
	// sharding depends on it.
	it, err = src.Samples(ctx, "")
	require.NoError(t, err)
	second, err := Keys(it)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Samples carry their source name.
	it, err = src.Samples(ctx, "")
	require.NoError(t, err)
	s, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, src.Name(), s.Source())
	require.NoError(t, it.Close())

	// Prefix filtering returns exactly the matching subset.
	prefix := first[0]
	it, err = src.Samples(ctx, prefix)
	require.NoError(t, err)
	filtered, err := Keys(it)
	require.NoError(t, err)
	var want []string
	for _, k := range first {
		if strings.HasPrefix(k, prefix) {
			want = append(want, k)
		}
	}
	require.Equal(t, want, filtered)

	// A canceled context stops the listing.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	it, err = src.Samples(cctx, "")
	if err == nil {
		_, err = it.Next()
		require.Error(t, err)
		it.Close()
	}
}
