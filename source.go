package datamux

import (
	"context"
	"io"
	"net/http"
)

// Source is a remote object-listing provider (a storage bucket
// abstraction).  Implementations must return listings that are lazy,
// finite, and deterministically ordered:  the worker sharding in this
// package assumes every worker process sees the listing in the exact
// same order.
type Source interface {
	// Name uniquely identifies this source among the sources handed to
	// a Mux, e.g. "gs://training-data/".  Used as the key in PrefixMap.
	Name() string

	// Samples returns a lazy iterator over samples whose keys begin
	// with prefix.  An empty prefix lists the entire source.  The
	// iterator returns iterator.Done once the listing is exhausted.
	Samples(ctx context.Context, prefix string) (SampleIterator, error)
}

// HTTPSource is a Source whose request-issuing client can be replaced.
// The Mux uses this to bind a per-worker http client at sequence-build
// time so forked data-loading workers never share pooled connections.
// WithHTTPClient returns a derived Source;  the receiver is unchanged.
type HTTPSource interface {
	Source
	WithHTTPClient(hc *http.Client) Source
}

// Sample is a single unit yielded by a Source.  The Mux passes samples
// through unmodified;  what a sample means is up to the source and the
// consumer.
type Sample interface {
	// Key is the object key/name within its source.
	Key() string
	// Source is the name of the source that yielded this sample.
	Source() string
	// Size in bytes, if the listing reported one, else 0.
	Size() int64
	// Open the sample content for reading.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// SampleIterator pages lazily through samples.  Next returns
// iterator.Done (google.golang.org/api/iterator) when the listing is
// exhausted.  Any other error is a listing failure propagated
// unmodified from the backing store.
type SampleIterator interface {
	Next() (Sample, error)
	Close() error
}
