package awss3

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	u "github.com/araddon/gou"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pborman/uuid"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
)

const (
	// SourceType = "s3" this is used to define the source type to
	// create from datamux.NewSource(config)
	SourceType = "s3"

	// Configuration Keys.  These are the names of keys
	// to look for in the config Settings to extract for config.

	// ConfKeyAccessKey config key name of the aws access_key(id) for auth
	ConfKeyAccessKey = "access_key"
	// ConfKeyAccessSecret config key name of the aws access secret
	ConfKeyAccessSecret = "access_secret"
	// ConfKeyEndpoint config key name of an alternate endpoint (minio, etc)
	ConfKeyEndpoint = "endpoint"
	// ConfKeyDisableSSL config key name of disabling ssl flag
	ConfKeyDisableSSL = "disable_ssl"

	// Authentication Sources

	// AuthAccessKey is for using aws access key/secret pairs
	AuthAccessKey datamux.AuthMethod = "aws_access_key"
	// AuthEnvironment is for using the aws env credentials chain
	AuthEnvironment datamux.AuthMethod = "aws_env"
)

var (
	// Retries number of times to retry list pages upon failures.
	Retries = 3
	// PageSize is default page size
	PageSize = 2000

	// ErrNoS3Session no valid session
	ErrNoS3Session = fmt.Errorf("no valid aws session was created")
	// ErrNoAccessKey error for no access_key
	ErrNoAccessKey = fmt.Errorf("no settings.access_key")
	// ErrNoAccessSecret error for no settings.access_secret
	ErrNoAccessSecret = fmt.Errorf("no settings.access_secret")
	// ErrNoAuth error for no findable auth
	ErrNoAuth = fmt.Errorf("No auth provided")

	// Ensure we implement the datamux source interfaces.
	_ datamux.Source     = (*S3Source)(nil)
	_ datamux.HTTPSource = (*S3Source)(nil)
)

func init() {
	// Register this Driver (s3) in the datamux source registry.
	datamux.Register(SourceType, func(conf *datamux.Config) (datamux.Source, error) {
		client, sess, err := NewClient(conf)
		if err != nil {
			return nil, err
		}
		return NewSource(client, sess, conf)
	})
}

// S3Source lists bucket objects as samples via the aws sdk.  S3
// listings come back in lexicographic key order, which is stable
// across worker processes.
type S3Source struct {
	conf     *datamux.Config
	client   *s3.S3
	sess     *session.Session
	bucket   string
	pageSize int64
	ID       string
}

// NewClient create new AWS s3 Client.  Uses datamux.Config to read
// necessary config settings such as bucket, region, auth.
func NewClient(conf *datamux.Config) (*s3.S3, *session.Session, error) {

	awsConf := aws.NewConfig().
		WithHTTPClient(http.DefaultClient).
		WithMaxRetries(aws.UseServiceDefaultRetries).
		WithLogger(aws.NewDefaultLogger()).
		WithLogLevel(aws.LogOff).
		WithS3ForcePathStyle(true)

	if conf.Client != nil {
		awsConf = awsConf.WithHTTPClient(conf.Client)
	}
	if conf.Region != "" {
		awsConf = awsConf.WithRegion(conf.Region)
	} else {
		awsConf = awsConf.WithRegion("us-east-1")
	}
	if endpoint := conf.Settings.String(ConfKeyEndpoint); endpoint != "" {
		awsConf = awsConf.WithEndpoint(endpoint)
	}
	if conf.Settings.Bool(ConfKeyDisableSSL) {
		awsConf = awsConf.WithDisableSSL(true)
	}

	switch conf.AuthMethod {
	case AuthAccessKey:
		accessKey := conf.Settings.String(ConfKeyAccessKey)
		if accessKey == "" {
			return nil, nil, ErrNoAccessKey
		}
		secretKey := conf.Settings.String(ConfKeyAccessSecret)
		if secretKey == "" {
			return nil, nil, ErrNoAccessSecret
		}
		awsConf = awsConf.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	case AuthEnvironment:
		awsConf = awsConf.WithCredentials(credentials.NewEnvCredentials())
	default:
		return nil, nil, ErrNoAuth
	}

	sess := session.New(awsConf)
	if sess == nil {
		return nil, nil, ErrNoS3Session
	}

	return s3.New(sess), sess, nil
}

// NewSource Create AWS S3 backed Source.
func NewSource(c *s3.S3, sess *session.Session, conf *datamux.Config) (*S3Source, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("config.bucket=%q cannot be empty", conf.Bucket)
	}

	pageSize := int64(PageSize)
	if conf.PageSize > 0 {
		pageSize = int64(conf.PageSize)
	}

	uid := uuid.NewUUID().String()
	uid = strings.Replace(uid, "-", "", -1)

	return &S3Source{
		conf:     conf,
		client:   c,
		sess:     sess,
		bucket:   conf.Bucket,
		pageSize: pageSize,
		ID:       uid,
	}, nil
}

// Type of source = "s3"
func (f *S3Source) Type() string {
	return SourceType
}

// Name of this source, s3://<bucket>/
func (f *S3Source) Name() string {
	return fmt.Sprintf("s3://%s/", f.bucket)
}

func (f *S3Source) String() string {
	return f.Name()
}

// Client gets access to the underlying native s3 client.
func (f *S3Source) Client() interface{} {
	return f.client
}

// WithHTTPClient derives a copy of this source bound to hc.  On
// failure the receiver is returned unchanged.
func (f *S3Source) WithHTTPClient(hc *http.Client) datamux.Source {
	conf := *f.conf
	conf.Client = hc
	client, sess, err := NewClient(&conf)
	if err != nil {
		u.Warnf("could not rebind s3 client bucket=%q err=%v", f.bucket, err)
		return f
	}
	src, err := NewSource(client, sess, &conf)
	if err != nil {
		u.Warnf("could not rebind s3 source bucket=%q err=%v", f.bucket, err)
		return f
	}
	return src
}

// Samples returns the lazy object listing under prefix, paged with
// list markers.
func (f *S3Source) Samples(ctx context.Context, prefix string) (datamux.SampleIterator, error) {
	return &objectIterator{source: f, ctx: ctx, prefix: prefix}, nil
}

type objectIterator struct {
	source *S3Source
	ctx    context.Context
	prefix string
	marker string
	page   []*s3.Object
	cursor int
	done   bool
}

func (it *objectIterator) Next() (datamux.Sample, error) {
	for {
		if err := it.ctx.Err(); err != nil {
			return nil, err
		}
		if it.cursor < len(it.page) {
			o := it.page[it.cursor]
			it.cursor++
			return &sample{source: it.source, key: *o.Key, size: aws.Int64Value(o.Size)}, nil
		}
		if it.done {
			return nil, iterator.Done
		}
		if err := it.fetchPage(); err != nil {
			return nil, err
		}
	}
}

func (it *objectIterator) fetchPage() error {
	params := &s3.ListObjectsInput{
		Bucket:  aws.String(it.source.bucket),
		MaxKeys: aws.Int64(it.source.pageSize),
		Prefix:  aws.String(it.prefix),
	}
	if it.marker != "" {
		params.Marker = aws.String(it.marker)
	}

	var resp *s3.ListObjectsOutput
	var err error
	for try := 0; ; try++ {
		resp, err = it.source.client.ListObjectsWithContext(it.ctx, params)
		if err == nil {
			break
		}
		if try >= Retries || it.ctx.Err() != nil {
			u.Warnf("s3 listing failed bucket=%q prefix=%q err=%v", it.source.bucket, it.prefix, err)
			return err
		}
		datamux.Backoff(try)
	}

	it.page = resp.Contents
	it.cursor = 0
	if aws.BoolValue(resp.IsTruncated) && len(resp.Contents) > 0 {
		it.marker = *resp.Contents[len(resp.Contents)-1].Key
	} else {
		it.done = true
	}
	return nil
}

func (it *objectIterator) Close() error {
	it.done = true
	it.page = nil
	it.cursor = 0
	return nil
}

type sample struct {
	source *S3Source
	key    string
	size   int64
}

func (s *sample) Key() string    { return s.key }
func (s *sample) Source() string { return s.source.Name() }
func (s *sample) Size() int64    { return s.size }

// Open creates an s3 object reader.
func (s *sample) Open(ctx context.Context) (io.ReadCloser, error) {
	res, err := s.source.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.source.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}
