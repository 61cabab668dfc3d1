package datamux

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/araddon/gou"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

var (
	// ErrNoSources no sources were given at construction.
	ErrNoSources = fmt.Errorf("datamux: at least one source is required")
	// ErrNilSource a nil entry in the source list.
	ErrNilSource = fmt.Errorf("datamux: nil source")
)

// ListFunc produces the sample listing for a single (source, prefix)
// pair.  The default implementation asks the source for its raw object
// listing;  replace it with WithListFunc to decode listings into other
// sample shapes.
type ListFunc func(ctx context.Context, src Source, prefix string) (SampleIterator, error)

// Option configures a Mux.
type Option func(*Mux)

// WithPrefixes restricts listings per source, see PrefixMap.
func WithPrefixes(pm PrefixMap) Option {
	return func(m *Mux) { m.prefixes = pm }
}

// WithListFunc replaces the per-source sample listing.
func WithListFunc(fn ListFunc) Option {
	return func(m *Mux) { m.list = fn }
}

// WithWorkerClient replaces how the per-worker http client is built
// when WorkerSamples runs inside a real worker pool.  A nil builder
// disables client rebinding entirely.
func WithWorkerClient(fn func(w WorkerInfo) *http.Client) Option {
	return func(m *Mux) {
		m.workerClient = fn
		m.workerClientSet = true
	}
}

// Mux flattens a list of sources, each optionally restricted to key
// prefixes, into one deterministic lazy sequence of samples, and hands
// out strided per-worker slices of that sequence.  A Mux holds only
// references;  every iteration pass rebuilds the sequence from fresh
// listings, nothing is cached across epochs.
type Mux struct {
	sources         []Source
	prefixes        PrefixMap
	list            ListFunc
	workerClient    func(w WorkerInfo) *http.Client
	workerClientSet bool
}

// NewMux creates a multiplexer over sources.  Returns ErrNoSources for
// an empty/nil source list.  Every PrefixMap key must name a source in
// the list;  all violations are reported at once.
func NewMux(sources []Source, opts ...Option) (*Mux, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	m := &Mux{sources: sources}
	for _, opt := range opts {
		opt(m)
	}
	if m.list == nil {
		m.list = func(ctx context.Context, src Source, prefix string) (SampleIterator, error) {
			return src.Samples(ctx, prefix)
		}
	}
	if !m.workerClientSet {
		m.workerClient = func(WorkerInfo) *http.Client { return NewWorkerHTTPClient() }
	}

	names := make(map[string]bool, len(sources))
	var errs *multierror.Error
	for i, src := range sources {
		if src == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w at index %d", ErrNilSource, i))
			continue
		}
		names[src.Name()] = true
	}
	for name := range m.prefixes {
		if !names[name] {
			errs = multierror.Append(errs, fmt.Errorf("datamux: prefix map key %q matches no source", name))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return m, nil
}

// Samples returns a fresh lazy pass over the flat sequence:  sources
// in configuration order, prefixes in the order given within a source,
// then the listing's natural order.  Listing failures are propagated
// unmodified and abort the pass.
func (m *Mux) Samples(ctx context.Context) SampleIterator {
	return m.samples(ctx, m.sources)
}

// WorkerSamples returns this worker's strided slice of a fresh flat
// sequence:  the samples at positions congruent to w.Index modulo
// w.Count.  With w.Count <= 1 the full sequence is returned unchanged.
// The union of all workers' slices reconstructs the sequence exactly,
// provided the underlying listing order is identical in every worker
// process;  any nondeterminism there breaks the no-overlap guarantee.
func (m *Mux) WorkerSamples(ctx context.Context, w WorkerInfo) SampleIterator {
	if w.solo() {
		return m.Samples(ctx)
	}
	if err := w.Validate(); err != nil {
		return &errIterator{err: err}
	}
	return Stride(m.samples(ctx, m.rebindSources(w)), w)
}

// rebindSources derives per-worker copies of sources that support
// client replacement, so workers never share pooled connections.
func (m *Mux) rebindSources(w WorkerInfo) []Source {
	if m.workerClient == nil {
		return m.sources
	}
	var hc *http.Client
	sources := make([]Source, len(m.sources))
	for i, src := range m.sources {
		if hs, ok := src.(HTTPSource); ok {
			if hc == nil {
				hc = m.workerClient(w)
			}
			gou.Debugf("binding worker client worker=%d/%d source=%q", w.Index, w.Count, src.Name())
			sources[i] = hs.WithHTTPClient(hc)
		} else {
			sources[i] = src
		}
	}
	return sources
}

func (m *Mux) samples(ctx context.Context, sources []Source) SampleIterator {
	var passes []listPass
	for _, src := range sources {
		for _, prefix := range m.prefixes.prefixesFor(src.Name()) {
			passes = append(passes, listPass{src: src, prefix: prefix})
		}
	}
	return &muxIterator{ctx: ctx, list: m.list, passes: passes}
}

// Count drains fresh listings and returns the exact number of samples
// in the flat sequence.  This is O(N) over every configured listing,
// do not call it to "check progress" of an in-flight iteration:  it
// re-lists from scratch and tells you nothing about a worker's cursor.
// Listings for the count run concurrently, order does not matter here.
func (m *Mux) Count(ctx context.Context) (int, error) {
	var total int64
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range m.sources {
		for _, prefix := range m.prefixes.prefixesFor(src.Name()) {
			src, prefix := src, prefix
			g.Go(func() error {
				it, err := m.list(ctx, src, prefix)
				if err != nil {
					return err
				}
				defer it.Close()
				for {
					if _, err := it.Next(); err != nil {
						if err == iterator.Done {
							return nil
						}
						return err
					}
					atomic.AddInt64(&total, 1)
				}
			})
		}
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(total), nil
}

// listPass is one (source, prefix) listing in the flat sequence.
type listPass struct {
	src    Source
	prefix string
}

// muxIterator walks the configured listing passes in order, opening
// each listing only when the previous one is exhausted.
type muxIterator struct {
	ctx    context.Context
	list   ListFunc
	passes []listPass
	pos    int
	cur    SampleIterator
	err    error
}

func (it *muxIterator) Next() (Sample, error) {
	if it.err != nil {
		return nil, it.err
	}
	for {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return nil, err
		}
		if it.cur == nil {
			if it.pos >= len(it.passes) {
				it.err = iterator.Done
				return nil, iterator.Done
			}
			pass := it.passes[it.pos]
			cur, err := it.list(it.ctx, pass.src, pass.prefix)
			if err != nil {
				gou.Warnf("could not list source=%q prefix=%q err=%v", pass.src.Name(), pass.prefix, err)
				it.err = err
				return nil, err
			}
			it.cur = cur
		}
		s, err := it.cur.Next()
		if err == iterator.Done {
			it.cur.Close()
			it.cur = nil
			it.pos++
			continue
		}
		if err != nil {
			it.err = err
			return nil, err
		}
		return s, nil
	}
}

func (it *muxIterator) Close() error {
	if it.cur != nil {
		cur := it.cur
		it.cur = nil
		it.err = iterator.Done
		return cur.Close()
	}
	if it.err == nil {
		it.err = iterator.Done
	}
	return nil
}

// errIterator yields a fixed error, used for invalid worker identity.
type errIterator struct {
	err error
}

func (it *errIterator) Next() (Sample, error) { return nil, it.err }
func (it *errIterator) Close() error          { return nil }
