package datamux_test

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
	"github.com/lytics/datamux/testutils"
)

func TestFlatSequenceConcat(t *testing.T) {
	t.Parallel()

	s1 := testutils.NewKeysSource("mock://s1/", "a1", "a2", "a3")
	s2 := testutils.NewKeysSource("mock://s2/", "b1", "b2")

	mux, err := datamux.NewMux([]datamux.Source{s1, s2})
	require.NoError(t, err)

	keys, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2", "a3", "b1", "b2"}, keys)
}

func TestFlatSequenceRestarts(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a", "b")
	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	first, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	second, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Every pass re-lists from scratch, nothing is cached.
	require.Equal(t, 2, src.ListCalls())
}

func TestPrefixOrder(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a/1", "a/2", "b/1", "c/1")
	mux, err := datamux.NewMux([]datamux.Source{src},
		datamux.WithPrefixes(datamux.PrefixMap{src.Name(): {"b/", "a/"}}))
	require.NoError(t, err)

	keys, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	// Prefix-major order:  all of "b/" then all of "a/", never "c/".
	require.Equal(t, []string{"b/1", "a/1", "a/2"}, keys)
}

func TestOverlappingPrefixesYieldDuplicates(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a/1", "a/2")
	mux, err := datamux.NewMux([]datamux.Source{src},
		datamux.WithPrefixes(datamux.PrefixMap{src.Name(): {"a", "a/"}}))
	require.NoError(t, err)

	keys, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	// No dedup across overlapping prefixes, that is the caller's call.
	require.Equal(t, []string{"a/1", "a/2", "a/1", "a/2"}, keys)
}

func TestEmptyPrefixListSkipsSource(t *testing.T) {
	t.Parallel()

	s1 := testutils.NewKeysSource("mock://s1/", "a1")
	s2 := testutils.NewKeysSource("mock://s2/", "b1")
	mux, err := datamux.NewMux([]datamux.Source{s1, s2},
		datamux.WithPrefixes(datamux.PrefixMap{s1.Name(): {}}))
	require.NoError(t, err)

	keys, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, keys)
}

func TestNoSources(t *testing.T) {
	t.Parallel()

	mux, err := datamux.NewMux(nil)
	require.Equal(t, datamux.ErrNoSources, err)
	require.Nil(t, mux)

	mux, err = datamux.NewMux([]datamux.Source{})
	require.Equal(t, datamux.ErrNoSources, err)
	require.Nil(t, mux)
}

func TestNilSourceRejected(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a")
	_, err := datamux.NewMux([]datamux.Source{src, nil})
	require.Error(t, err)
	require.ErrorIs(t, err, datamux.ErrNilSource)
}

func TestPrefixMapKeysValidated(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a")
	_, err := datamux.NewMux([]datamux.Source{src},
		datamux.WithPrefixes(datamux.PrefixMap{
			"mock://bogus/": {"x/"},
			"mock://gone/":  {"y/"},
		}))
	require.Error(t, err)
	// All violations reported at once.
	assert.Contains(t, err.Error(), "mock://bogus/")
	assert.Contains(t, err.Error(), "mock://gone/")
}

func TestListErrorPropagatedUnmodified(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("listing blew up")
	src := testutils.NewKeysSource("mock://s1/", "a", "b", "c")
	src.Err = boom
	src.FailAfter = 1

	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	it := mux.Samples(context.Background())
	defer it.Close()

	s, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, "a", s.Key())

	_, err = it.Next()
	require.Equal(t, boom, err)

	// The pass is aborted, the error is sticky.
	_, err = it.Next()
	require.Equal(t, boom, err)
}

func TestWorkerSlicesConcrete(t *testing.T) {
	t.Parallel()

	s1 := testutils.NewKeysSource("mock://s1/", "o1", "o2", "o3")
	s2 := testutils.NewKeysSource("mock://s2/", "o4", "o5")
	mux, err := datamux.NewMux([]datamux.Source{s1, s2})
	require.NoError(t, err)

	ctx := context.Background()

	w0, err := testutils.Keys(mux.WorkerSamples(ctx, datamux.WorkerInfo{Index: 0, Count: 2}))
	require.NoError(t, err)
	require.Equal(t, []string{"o1", "o3", "o5"}, w0)

	w1, err := testutils.Keys(mux.WorkerSamples(ctx, datamux.WorkerInfo{Index: 1, Count: 2}))
	require.NoError(t, err)
	require.Equal(t, []string{"o2", "o4"}, w1)
}

func TestWorkerSlicesReconstruct(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "k1", "k2", "k3", "k4", "k5", "k6", "k7")
	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	ctx := context.Background()
	full, err := testutils.Keys(mux.Samples(ctx))
	require.NoError(t, err)

	const workers = 3
	var union []string
	seen := map[string]int{}
	for i := 0; i < workers; i++ {
		keys, err := testutils.Keys(mux.WorkerSamples(ctx, datamux.WorkerInfo{Index: i, Count: workers}))
		require.NoError(t, err)
		union = append(union, keys...)
		for _, k := range keys {
			seen[k]++
		}
	}

	// No gaps, no overlaps.
	require.Len(t, union, len(full))
	for _, k := range full {
		assert.Equal(t, 1, seen[k], "key %q", k)
	}
	sort.Strings(union)
	require.Equal(t, full, union)
}

func TestWorkerSoloIsFullSequence(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a", "b", "c")
	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	ctx := context.Background()
	full, err := testutils.Keys(mux.Samples(ctx))
	require.NoError(t, err)

	solo, err := testutils.Keys(mux.WorkerSamples(ctx, datamux.Solo))
	require.NoError(t, err)
	require.Equal(t, full, solo)

	// Zero value means "no pool", same as solo.
	none, err := testutils.Keys(mux.WorkerSamples(ctx, datamux.WorkerInfo{}))
	require.NoError(t, err)
	require.Equal(t, full, none)
}

func TestWorkerSamplesInvalidSpec(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a")
	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	it := mux.WorkerSamples(context.Background(), datamux.WorkerInfo{Index: 5, Count: 2})
	_, err = it.Next()
	require.Error(t, err)
	require.NoError(t, it.Close())
}

func TestWorkerClientBoundPerPool(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a", "b")

	var got []datamux.WorkerInfo
	mux, err := datamux.NewMux([]datamux.Source{src},
		datamux.WithWorkerClient(func(w datamux.WorkerInfo) *http.Client {
			got = append(got, w)
			return http.DefaultClient
		}))
	require.NoError(t, err)

	ctx := context.Background()

	// Solo iteration never rebinds.
	_, err = testutils.Keys(mux.Samples(ctx))
	require.NoError(t, err)
	require.Empty(t, got)

	// A real pool binds one client for this worker's sources.
	w := datamux.WorkerInfo{Index: 1, Count: 4}
	_, err = testutils.Keys(mux.WorkerSamples(ctx, w))
	require.NoError(t, err)
	require.Equal(t, []datamux.WorkerInfo{w}, got)
}

func TestListFuncOverride(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "keep/1", "skip/1", "keep/2")

	// Variant behavior:  restrict every listing to the keep/ subset,
	// whatever prefix was asked for.
	mux, err := datamux.NewMux([]datamux.Source{src},
		datamux.WithListFunc(func(ctx context.Context, s datamux.Source, prefix string) (datamux.SampleIterator, error) {
			return s.Samples(ctx, "keep/")
		}))
	require.NoError(t, err)

	keys, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	require.Equal(t, []string{"keep/1", "keep/2"}, keys)
}

func TestCount(t *testing.T) {
	t.Parallel()

	s1 := testutils.NewKeysSource("mock://s1/", "a/1", "a/2", "b/1")
	s2 := testutils.NewKeysSource("mock://s2/", "x", "y")
	mux, err := datamux.NewMux([]datamux.Source{s1, s2},
		datamux.WithPrefixes(datamux.PrefixMap{s1.Name(): {"a/", "b/"}}))
	require.NoError(t, err)

	n, err := mux.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// Count drains fresh listings, it shares no cursor with Samples.
	keys, err := testutils.Keys(mux.Samples(context.Background()))
	require.NoError(t, err)
	require.Len(t, keys, 5)
}

func TestCountPropagatesListError(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("no such bucket")
	src := testutils.NewKeysSource("mock://s1/", "a")
	src.Err = boom

	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	_, err = mux.Count(context.Background())
	require.Equal(t, boom, err)
}

func TestSamplesContextCancel(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a", "b", "c")
	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	it := mux.Samples(ctx)
	defer it.Close()

	_, err = it.Next()
	require.NoError(t, err)

	cancel()
	_, err = it.Next()
	require.Equal(t, context.Canceled, err)
}

func TestIteratorCloseEndsPass(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s1/", "a", "b")
	mux, err := datamux.NewMux([]datamux.Source{src})
	require.NoError(t, err)

	it := mux.Samples(context.Background())
	_, err = it.Next()
	require.NoError(t, err)
	require.NoError(t, it.Close())

	_, err = it.Next()
	require.Equal(t, iterator.Done, err)
}
