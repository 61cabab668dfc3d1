package sftp

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/araddon/gou"
	"github.com/pborman/uuid"
	ftp "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"

	"github.com/lytics/datamux"
)

const (
	// SourceType = "sftp" this is used to define the source type to
	// create from datamux.NewSource(config)
	SourceType = "sftp"

	timeout = 5 * time.Minute

	// AuthUserKey is for username + private key auth
	AuthUserKey datamux.AuthMethod = "userkey"
	// AuthUserPass is for username + password auth
	AuthUserPass datamux.AuthMethod = "userpass"

	// ConfKeyUser config key name of the username
	ConfKeyUser = "user"
	// ConfKeyPassword config key name of the password
	ConfKeyPassword = "password"
	// ConfKeyPrivateKey config key name of the privatekey
	ConfKeyPrivateKey = "privatekey"
	// ConfKeyHost config key name of the server host
	ConfKeyHost = "host"
	// ConfKeyPort config key name of the sftp port
	ConfKeyPort = "port"
	// ConfKeyFolder config key name of the sftp folder to list under
	ConfKeyFolder = "folder"
)

var (
	// ErrNoHost error for no host configured
	ErrNoHost = fmt.Errorf("no settings.host")

	// Ensure our SftpSource implements datamux interfaces.
	_ datamux.Source = (*SftpSource)(nil)
)

func init() {
	// Register this Driver (sftp) in the datamux source registry.
	datamux.Register(SourceType, func(conf *datamux.Config) (datamux.Source, error) {
		return NewSourceFromConfig(context.Background(), conf)
	})
}

// SftpSource lists files under a remote folder as samples.  Keys are
// paths relative to the folder, sorted, for a deterministic listing.
// Close the source when done, it holds the ssh connection.
type SftpSource struct {
	ID     string
	client *ftp.Client
	sshCl  *ssh.Client
	host   string
	port   int
	folder string
	bucket string
}

// NewSourceFromConfig validates configuration then dials the server.
func NewSourceFromConfig(clientCtx context.Context, conf *datamux.Config) (*SftpSource, error) {

	var sshConfig *ssh.ClientConfig
	var err error

	switch conf.AuthMethod {
	case AuthUserKey:
		sshConfig, err = ConfigUserKey(conf.Settings.String(ConfKeyUser), conf.Settings.String(ConfKeyPrivateKey))
		if err != nil {
			gou.WarnCtx(clientCtx, "error configuring private key %v", err)
			return nil, err
		}
	case AuthUserPass:
		sshConfig = ConfigUserPass(conf.Settings.String(ConfKeyUser), conf.Settings.String(ConfKeyPassword))
	default:
		err := fmt.Errorf("invalid config.AuthMethod %q", conf.AuthMethod)
		gou.WarnCtx(clientCtx, "%v", err)
		return nil, err
	}

	host := conf.Settings.String(ConfKeyHost)
	folder := conf.Settings.String(ConfKeyFolder)
	port := conf.Settings.Int(ConfKeyPort)

	return NewSource(clientCtx, conf, host, port, folder, sshConfig)
}

// NewSource returns a new sftp backed Source.
// Make sure to Close the source so the connection is released.
func NewSource(clientCtx context.Context, conf *datamux.Config, host string, port int, folder string, config *ssh.ClientConfig) (*SftpSource, error) {

	target, err := sftpAddr(host, port)
	if err != nil {
		gou.WarnCtx(clientCtx, "failed creating address with %s, %d: %v", host, port, err)
		return nil, err
	}

	sshClient, err := ssh.Dial("tcp", target, config)
	if err != nil {
		gou.WarnCtx(clientCtx, "failed SFTP login for %s with error %s", config.User, err)
		return nil, err
	}

	ftpClient, err := ftp.NewClient(sshClient)
	if err != nil {
		gou.WarnCtx(clientCtx, "failed creating SFTP client for %s with error %s", config.User, err)
		sshClient.Close()
		return nil, err
	}

	uid := uuid.NewUUID().String()
	uid = strings.Replace(uid, "-", "", -1)

	return &SftpSource{
		ID:     uid,
		client: ftpClient,
		sshCl:  sshClient,
		host:   host,
		port:   port,
		folder: folder,
		bucket: conf.Bucket,
	}, nil
}

// ConfigUserPass creates ssh config with user/password.
//
// HostKeyCallback was added here
//
//	https://github.com/golang/go/commit/e4f1d9cf2e948eb0f0bb91d7c253ab61dfff3a59
func ConfigUserPass(user, password string) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
}

// ConfigUserKey creates ssh config with ssh/private rsa key.
func ConfigUserKey(user, keyString string) (*ssh.ClientConfig, error) {
	// Decode the RSA private key
	key, err := ssh.ParsePrivateKey([]byte(keyString))
	if err != nil {
		return nil, fmt.Errorf("bad private key: %s", err)
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// Type of source = "sftp"
func (m *SftpSource) Type() string {
	return SourceType
}

// Name of this source, sftp://<host>/<folder>/
func (m *SftpSource) Name() string {
	return fmt.Sprintf("sftp://%s/%s/", m.host, m.root())
}

func (m *SftpSource) String() string {
	return m.Name()
}

// Client gets access to the underlying native sftp client.
func (m *SftpSource) Client() interface{} {
	return m.client
}

// Close releases the sftp and ssh connections.
func (m *SftpSource) Close() error {
	ferr := m.client.Close()
	serr := m.sshCl.Close()
	if ferr != nil {
		return ferr
	}
	return serr
}

func (m *SftpSource) root() string {
	return path.Join(m.folder, m.bucket)
}

// Samples lists remote files under the folder restricted to prefix.
// The listing is a sorted snapshot taken at call time.
func (m *SftpSource) Samples(ctx context.Context, prefix string) (datamux.SampleIterator, error) {
	root := m.root()
	var samples []*sample

	w := m.client.Walk(root)
	for w.Step() {
		if err := w.Err(); err != nil {
			gou.WarnCtx(ctx, "error walking sftp folder=%q err=%v", root, err)
			return nil, err
		}
		fi := w.Stat()
		if fi.IsDir() {
			continue
		}
		key := strings.TrimPrefix(strings.TrimPrefix(w.Path(), root), "/")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		samples = append(samples, &sample{source: m, key: key, size: fi.Size()})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].key < samples[j].key })
	return &sampleIterator{ctx: ctx, samples: samples}, nil
}

type sample struct {
	source *SftpSource
	key    string
	size   int64
}

func (s *sample) Key() string    { return s.key }
func (s *sample) Source() string { return s.source.Name() }
func (s *sample) Size() int64    { return s.size }

// Open the remote file for reading.
func (s *sample) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.source.client.Open(path.Join(s.source.root(), s.key))
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

// sftpAddr build the host:port address, validating host and port.
func sftpAddr(host string, port int) (string, error) {
	if host == "" {
		return "", ErrNoHost
	}
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}
