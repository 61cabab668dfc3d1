package localfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pborman/uuid"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
)

func init() {
	// Register this Driver (localfs) in the datamux source registry.
	datamux.Register(SourceType, func(conf *datamux.Config) (datamux.Source, error) {
		return NewSource(conf)
	})
}

var (
	// Ensure our LocalSource implements datamux interfaces.
	_ datamux.Source = (*LocalSource)(nil)
)

const (
	// AuthFileSystem Authentication Method
	AuthFileSystem datamux.AuthMethod = "localfiles"

	// SourceType name of our Local Storage provider = "localfs"
	SourceType = "localfs"
)

// LocalSource lists samples from a local-filesystem directory, mostly
// for tests and local mocking of the cloud providers.  Keys are paths
// relative to the root, sorted, which gives the deterministic listing
// order the worker sharding depends on.
type LocalSource struct {
	root string // possibly relative, e.g. ./testdata
	ID   string
}

// NewSource creates a local source rooted at conf.LocalFS/conf.Bucket.
func NewSource(conf *datamux.Config) (*LocalSource, error) {
	if conf.LocalFS == "" {
		return nil, fmt.Errorf("localfs=%q cannot be empty", conf.LocalFS)
	}

	root := filepath.Join(conf.LocalFS, conf.Bucket)
	if err := os.MkdirAll(root, 0775); err != nil {
		return nil, fmt.Errorf("unable to create path. path=%s err=%v", root, err)
	}

	uid := uuid.NewUUID().String()
	uid = strings.Replace(uid, "-", "", -1)

	return &LocalSource{root: root, ID: uid}, nil
}

// Type of source = "localfs"
func (l *LocalSource) Type() string {
	return SourceType
}

// Name of this source, localfs://<root>/
func (l *LocalSource) Name() string {
	return fmt.Sprintf("localfs://%s/", l.root)
}

func (l *LocalSource) String() string {
	return l.Name()
}

// Samples lists files under the root restricted to prefix.  The
// listing is a sorted snapshot taken at call time.
func (l *LocalSource) Samples(ctx context.Context, prefix string) (datamux.SampleIterator, error) {
	var samples []*sample

	err := filepath.Walk(l.root, func(fo string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if f.IsDir() {
			return nil
		}
		key := strings.TrimPrefix(strings.Replace(fo, l.root, "", 1), "/")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		samples = append(samples, &sample{
			source: l,
			key:    key,
			size:   f.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].key < samples[j].key })
	return &sampleIterator{ctx: ctx, samples: samples}, nil
}

type sample struct {
	source *LocalSource
	key    string
	size   int64
}

func (s *sample) Key() string    { return s.key }
func (s *sample) Source() string { return s.source.Name() }
func (s *sample) Size() int64    { return s.size }

func (s *sample) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.source.root, s.key))
}

type sampleIterator struct {
	ctx     context.Context
	samples []*sample
	cursor  int
}

func (it *sampleIterator) Next() (datamux.Sample, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}
	if it.cursor >= len(it.samples) {
		return nil, iterator.Done
	}
	s := it.samples[it.cursor]
	it.cursor++
	return s, nil
}

func (it *sampleIterator) Close() error {
	it.cursor = len(it.samples)
	return nil
}
