package google

import (
	"net/http"

	"cloud.google.com/go/storage"
	"golang.org/x/net/context"
	"golang.org/x/oauth2"
	googleOauth2 "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/lytics/datamux"
)

// GoogleOAuthClient An interface so we can return any of the Google
// transporter wrappers as a single interface.
type GoogleOAuthClient interface {
	Client() *http.Client
}
type gOAuthClient struct {
	httpclient *http.Client
}

func (g *gOAuthClient) Client() *http.Client {
	return g.httpclient
}

// NewGoogleClient create a http client for the configured AuthMethod.
func NewGoogleClient(conf *datamux.Config) (GoogleOAuthClient, error) {
	switch conf.AuthMethod {
	case AuthJWTKeySource:
		return BuildJWTTransporter(conf.JwtConf)
	case AuthGCEMetaKeySource:
		return BuildGCEMetadatTransporter("")
	case AuthGCEDefaultOAuthToken:
		return BuildDefaultGoogleTransporter(storage.ScopeReadOnly)
	default:
		return BuildDefaultGoogleTransporter(storage.ScopeReadOnly)
	}
}

// BuildJWTTransporter create a Google Oauth client from jwt token
// (service-account credentials).
func BuildJWTTransporter(jwtConf *datamux.JwtConf) (GoogleOAuthClient, error) {
	key, err := jwtConf.KeyBytes()
	if err != nil {
		return nil, err
	}

	scopes := jwtConf.Scopes
	if len(scopes) == 0 {
		scopes = []string{storage.ScopeReadOnly}
	}
	conf := &jwt.Config{
		Email:      jwtConf.ClientEmail,
		PrivateKey: key,
		Scopes:     scopes,
		TokenURL:   googleOauth2.JWTTokenURL,
	}

	client := conf.Client(context.Background())

	return &gOAuthClient{httpclient: client}, nil
}

// BuildGCEMetadatTransporter builds a client using the GCE instance's
// metadata token source.  The account may be empty to use the
// instance's main account.
func BuildGCEMetadatTransporter(serviceAccount string) (GoogleOAuthClient, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: googleOauth2.ComputeTokenSource(serviceAccount),
		},
	}
	return &gOAuthClient{httpclient: client}, nil
}

// BuildDefaultGoogleTransporter builds a transporter that wraps the
// google DefaultClient, which looks up Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS file, gcloud credentials, or the
// GCE metadata server).
func BuildDefaultGoogleTransporter(scope ...string) (GoogleOAuthClient, error) {
	client, err := googleOauth2.DefaultClient(context.Background(), scope...)
	if err != nil {
		return nil, err
	}
	return &gOAuthClient{httpclient: client}, nil
}
