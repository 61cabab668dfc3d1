package datamux

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/araddon/gou"
)

// AuthMethod is the source/location/type of credentials used by a
// source provider.  Each provider defines its own AuthMethod consts.
type AuthMethod string

// Config holds the connection info to create a Source from NewSource.
type Config struct {
	// Type of source provider [gcs, s3, azure, sftp, localfs].
	Type string `json:"type"`
	// AuthMethod the methods of authenticating to the provider.
	AuthMethod AuthMethod `json:"authmethod"`
	// Bucket or container holding the objects.
	Bucket string `json:"bucket"`
	// PageSize to use with provider list requests (provider default if 0).
	PageSize int `json:"pagesize,omitempty"`
	// Project for gcs.
	Project string `json:"project,omitempty"`
	// Region for s3.
	Region string `json:"region,omitempty"`
	// LocalFS root path for the localfs provider.
	LocalFS string `json:"localfs,omitempty"`
	// Settings are provider-specific values (keys, hosts, ports).
	Settings gou.JsonHelper `json:"settings,omitempty"`
	// JwtConf for gcs jwt-key auth.
	JwtConf *JwtConf `json:"jwtconf,omitempty"`
	// Client overrides the provider's http client, e.g. a per-worker
	// client from NewWorkerHTTPClient.
	Client *http.Client `json:"-"`
}

// Validate that the config names a provider type.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("datamux: invalid config, config is nil")
	}
	if c.Type == "" {
		return fmt.Errorf("datamux: invalid config, missing source type")
	}
	return nil
}

// JwtConf For use with google/client.go, the fields of a Google
// service-account credentials file with the key base64 encoded.
type JwtConf struct {
	PrivateKeyID     string   `json:"private_key_id"`
	PrivateKeyBase64 string   `json:"private_keybase64"`
	ClientEmail      string   `json:"client_email"`
	ClientID         string   `json:"client_id"`
	Keytype          string   `json:"keytype"`
	Scopes           []string `json:"scopes"`
}

// Validate that this is a valid jwt conf set of tokens.
func (j *JwtConf) Validate() error {
	if _, err := j.KeyBytes(); err != nil {
		return fmt.Errorf("invalid jwtconf.private_keybase64 could not decode base64 err=%v", err)
	}
	return nil
}

// KeyBytes decodes the base64 private key.
func (j *JwtConf) KeyBytes() ([]byte, error) {
	if j == nil {
		return nil, fmt.Errorf("jwtconf is nil")
	}
	return base64.StdEncoding.DecodeString(j.PrivateKeyBase64)
}
