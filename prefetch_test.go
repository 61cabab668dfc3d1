package datamux_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
	"github.com/lytics/datamux/testutils"
)

func TestPrefetchPreservesOrder(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s/", "a", "b", "c", "d", "e")
	ctx := context.Background()

	plain, err := src.Samples(ctx, "")
	require.NoError(t, err)
	want, err := testutils.Keys(plain)
	require.NoError(t, err)

	it, err := src.Samples(ctx, "")
	require.NoError(t, err)
	got, err := testutils.Keys(datamux.Prefetch(it, 2))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPrefetchDisabled(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s/", "a")
	it, err := src.Samples(context.Background(), "")
	require.NoError(t, err)
	defer it.Close()

	// n <= 0 is a no-op wrapper.
	require.Equal(t, it, datamux.Prefetch(it, 0))
}

func TestPrefetchEarlyClose(t *testing.T) {
	t.Parallel()

	src := testutils.NewKeysSource("mock://s/", "a", "b", "c", "d", "e", "f", "g", "h")
	it, err := src.Samples(context.Background(), "")
	require.NoError(t, err)

	p := datamux.Prefetch(it, 1)
	s, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "a", s.Key())

	// Close mid-stream must stop the fill goroutine (TestMain's leak
	// check enforces that) and end the pass.
	require.NoError(t, p.Close())
	_, err = p.Next()
	require.Equal(t, iterator.Done, err)
}

func TestPrefetchPropagatesError(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("listing blew up")
	src := testutils.NewKeysSource("mock://s/", "a", "b", "c")
	src.Err = boom
	src.FailAfter = 1

	it, err := src.Samples(context.Background(), "")
	require.NoError(t, err)

	p := datamux.Prefetch(it, 4)
	s, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "a", s.Key())

	_, err = p.Next()
	require.Equal(t, boom, err)
	require.NoError(t, p.Close())
}
