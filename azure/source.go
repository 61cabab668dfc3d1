package azure

import (
	"fmt"
	"io"
	"strings"

	az "github.com/Azure/azure-sdk-for-go/storage"
	u "github.com/araddon/gou"
	"github.com/pborman/uuid"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
)

const (
	// SourceType = "azure" this is used to define the source type to
	// create from datamux.NewSource(config)
	SourceType = "azure"

	// Configuration Keys.  These are the names of keys
	// to look for in the config Settings to extract for config.

	// ConfKeyAccount config key name of the azure storage account
	ConfKeyAccount = "azure_account"
	// ConfKeyAuthKey config key name of the azure api key for auth
	ConfKeyAuthKey = "azure_key"

	// AuthKey is for using azure api key
	AuthKey datamux.AuthMethod = "azure_key"
)

var (
	// Retries number of times to retry list pages upon failures.
	Retries = 3
	// PageSize is default page size
	PageSize = 2000

	// ErrNoAccount error for no azure_account
	ErrNoAccount = fmt.Errorf("no settings.azure_account")
	// ErrNoAccessKey error for no azure_key
	ErrNoAccessKey = fmt.Errorf("no settings.azure_key")
	// ErrNoAuth error for no findable auth
	ErrNoAuth = fmt.Errorf("No auth provided")

	// Ensure we implement the datamux source interfaces.
	_ datamux.Source = (*AzureSource)(nil)
)

func init() {
	// Register this Driver (azure) in the datamux source registry.
	datamux.Register(SourceType, func(conf *datamux.Config) (datamux.Source, error) {
		blobClient, err := NewClient(conf)
		if err != nil {
			return nil, err
		}
		return NewSource(blobClient, conf)
	})
}

// AzureSource lists container blobs as samples via the azure sdk.
type AzureSource struct {
	blobClient *az.BlobStorageClient
	bucket     string
	pageSize   uint
	ID         string
}

// NewClient create new azure blob client.  Uses datamux.Config to read
// necessary config settings such as bucket, account, auth.
func NewClient(conf *datamux.Config) (*az.BlobStorageClient, error) {
	switch conf.AuthMethod {
	case AuthKey:
		account := conf.Settings.String(ConfKeyAccount)
		if account == "" {
			return nil, ErrNoAccount
		}
		key := conf.Settings.String(ConfKeyAuthKey)
		if key == "" {
			return nil, ErrNoAccessKey
		}
		basicClient, err := az.NewBasicClient(account, key)
		if err != nil {
			u.Warnf("could not get azure client account=%q err=%v", account, err)
			return nil, err
		}
		blobClient := basicClient.GetBlobService()
		return &blobClient, nil
	}
	return nil, ErrNoAuth
}

// NewSource Create an Azure blob container backed Source.
func NewSource(blobClient *az.BlobStorageClient, conf *datamux.Config) (*AzureSource, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("config.bucket=%q cannot be empty", conf.Bucket)
	}

	pageSize := uint(PageSize)
	if conf.PageSize > 0 {
		pageSize = uint(conf.PageSize)
	}

	uid := uuid.NewUUID().String()
	uid = strings.Replace(uid, "-", "", -1)

	return &AzureSource{
		blobClient: blobClient,
		bucket:     conf.Bucket,
		pageSize:   pageSize,
		ID:         uid,
	}, nil
}

// Type of source = "azure"
func (f *AzureSource) Type() string {
	return SourceType
}

// Name of this source, azure://<container>/
func (f *AzureSource) Name() string {
	return fmt.Sprintf("azure://%s/", f.bucket)
}

func (f *AzureSource) String() string {
	return f.Name()
}

// Client gets access to the underlying native blob client.
func (f *AzureSource) Client() interface{} {
	return f.blobClient
}

func (f *AzureSource) container() *az.Container {
	return f.blobClient.GetContainerReference(f.bucket)
}

// Samples returns the lazy blob listing under prefix, paged with list
// markers.
func (f *AzureSource) Samples(ctx context.Context, prefix string) (datamux.SampleIterator, error) {
	return &blobIterator{source: f, ctx: ctx, prefix: prefix}, nil
}

type blobIterator struct {
	source *AzureSource
	ctx    context.Context
	prefix string
	marker string
	page   []az.Blob
	cursor int
	done   bool
}

func (it *blobIterator) Next() (datamux.Sample, error) {
	for {
		if err := it.ctx.Err(); err != nil {
			return nil, err
		}
		if it.cursor < len(it.page) {
			b := it.page[it.cursor]
			it.cursor++
			return &sample{source: it.source, key: b.Name, size: b.Properties.ContentLength}, nil
		}
		if it.done {
			return nil, iterator.Done
		}
		if err := it.fetchPage(); err != nil {
			return nil, err
		}
	}
}

func (it *blobIterator) fetchPage() error {
	params := az.ListBlobsParameters{
		Prefix:     it.prefix,
		Marker:     it.marker,
		MaxResults: it.source.pageSize,
	}

	var resp az.BlobListResponse
	var err error
	for try := 0; ; try++ {
		resp, err = it.source.container().ListBlobs(params)
		if err == nil {
			break
		}
		if try >= Retries || it.ctx.Err() != nil {
			u.Warnf("azure listing failed container=%q prefix=%q err=%v", it.source.bucket, it.prefix, err)
			return err
		}
		datamux.Backoff(try)
	}

	it.page = resp.Blobs
	it.cursor = 0
	if resp.NextMarker != "" {
		it.marker = resp.NextMarker
	} else {
		it.done = true
	}
	return nil
}

func (it *blobIterator) Close() error {
	it.done = true
	it.page = nil
	it.cursor = 0
	return nil
}

type sample struct {
	source *AzureSource
	key    string
	size   int64
}

func (s *sample) Key() string    { return s.key }
func (s *sample) Source() string { return s.source.Name() }
func (s *sample) Size() int64    { return s.size }

// Open creates an azure blob reader.
func (s *sample) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.source.container().GetBlobReference(s.key).Get(nil)
}
