package google

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/araddon/gou"
	"github.com/pborman/uuid"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lytics/datamux"
)

func init() {
	// Register this Driver (gcs) in the datamux source registry.
	datamux.Register(SourceType, func(conf *datamux.Config) (datamux.Source, error) {
		client, err := newStorageClient(conf)
		if err != nil {
			return nil, err
		}
		return NewSource(client, conf)
	})
}

const (
	// SourceType = "gcs" this is used to define the source type to
	// create from datamux.NewSource(config)
	SourceType = "gcs"

	// Authentication Sources

	// AuthJWTKeySource is for service-account jwt keys, see Config.JwtConf
	AuthJWTKeySource datamux.AuthMethod = "gcsjwtkey"
	// AuthGCEMetaKeySource is for using the GCE metadata service
	AuthGCEMetaKeySource datamux.AuthMethod = "gcemetadata"
	// AuthGCEDefaultOAuthToken is for Application Default Credentials
	AuthGCEDefaultOAuthToken datamux.AuthMethod = "gcedefaulttoken"
)

var (
	// Retries number of times to retry list pages upon failures, GCS
	// returns the occasional transient 500.
	Retries = 5

	// Ensure we implement the datamux source interfaces.
	_ datamux.Source     = (*GcsSource)(nil)
	_ datamux.HTTPSource = (*GcsSource)(nil)
)

// GcsSource lists bucket objects as samples via the GCS sdk.  Listing
// order is the bucket's lexicographic key order, which is stable
// across worker processes.
type GcsSource struct {
	gcs      *storage.Client
	bucket   string
	pageSize int
	ID       string
}

func newStorageClient(conf *datamux.Config) (*storage.Client, error) {
	if conf.Client != nil {
		return storage.NewClient(context.Background(), option.WithHTTPClient(conf.Client))
	}
	googleClient, err := NewGoogleClient(conf)
	if err != nil {
		return nil, err
	}
	return storage.NewClient(context.Background(), option.WithHTTPClient(googleClient.Client()))
}

// NewSource Create a Google Cloud Storage backed Source.
func NewSource(gcs *storage.Client, conf *datamux.Config) (*GcsSource, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("config.bucket=%q cannot be empty", conf.Bucket)
	}

	uid := uuid.NewUUID().String()
	uid = strings.Replace(uid, "-", "", -1)

	return &GcsSource{
		gcs:      gcs,
		bucket:   conf.Bucket,
		pageSize: conf.PageSize,
		ID:       uid,
	}, nil
}

// Type of source = "gcs"
func (g *GcsSource) Type() string {
	return SourceType
}

// Name of this source, gs://<bucket>/
func (g *GcsSource) Name() string {
	return fmt.Sprintf("gs://%s/", g.bucket)
}

func (g *GcsSource) String() string {
	return g.Name()
}

// Client gets access to the underlying google cloud storage client.
func (g *GcsSource) Client() interface{} {
	return g.gcs
}

// WithHTTPClient derives a copy of this source bound to hc.  Used by
// the Mux to give each data-loading worker its own transport.  On
// failure the receiver is returned unchanged so iteration can proceed
// on the shared client.
func (g *GcsSource) WithHTTPClient(hc *http.Client) datamux.Source {
	client, err := storage.NewClient(context.Background(), option.WithHTTPClient(hc))
	if err != nil {
		gou.Warnf("could not rebind gcs client bucket=%q err=%v", g.bucket, err)
		return g
	}
	return &GcsSource{gcs: client, bucket: g.bucket, pageSize: g.pageSize, ID: g.ID}
}

// Samples returns the lazy object listing under prefix.
func (g *GcsSource) Samples(ctx context.Context, prefix string) (datamux.SampleIterator, error) {
	q := &storage.Query{Prefix: prefix}
	return &objectIterator{
		source: g,
		iter:   g.gcs.Bucket(g.bucket).Objects(ctx, q),
	}, nil
}

type objectIterator struct {
	source *GcsSource
	iter   *storage.ObjectIterator
	done   bool
}

func (it *objectIterator) Next() (datamux.Sample, error) {
	if it.done {
		return nil, iterator.Done
	}
	retryCt := 0
	for {
		attrs, err := it.iter.Next()
		if err == nil {
			return &sample{source: it.source, key: attrs.Name, size: attrs.Size}, nil
		}
		if err == iterator.Done {
			it.done = true
			return nil, err
		}
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, err
		}
		if retryCt >= Retries {
			gou.Warnf("gcs listing failed bucket=%q err=%v", it.source.bucket, err)
			return nil, err
		}
		datamux.Backoff(retryCt)
		retryCt++
	}
}

func (it *objectIterator) Close() error {
	it.done = true
	return nil
}

type sample struct {
	source *GcsSource
	key    string
	size   int64
}

func (s *sample) Key() string    { return s.key }
func (s *sample) Source() string { return s.source.Name() }
func (s *sample) Size() int64    { return s.size }

// Open creates a GCS object reader.
func (s *sample) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.source.gcs.Bucket(s.source.bucket).Object(s.key).NewReader(ctx)
}
