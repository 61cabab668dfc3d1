package awss3_test

import (
	"testing"

	"github.com/araddon/gou"
	"github.com/stretchr/testify/require"

	"github.com/lytics/datamux"
	"github.com/lytics/datamux/awss3"
)

func TestNewClientBadAuth(t *testing.T) {
	t.Parallel()

	conf := &datamux.Config{
		Type:       awss3.SourceType,
		AuthMethod: awss3.AuthAccessKey,
		Bucket:     "datasets",
		Settings:   make(gou.JsonHelper),
	}

	// missing access_key
	_, _, err := awss3.NewClient(conf)
	require.Equal(t, awss3.ErrNoAccessKey, err)

	// missing access_secret
	conf.Settings[awss3.ConfKeyAccessKey] = "fake-access-key"
	_, _, err = awss3.NewClient(conf)
	require.Equal(t, awss3.ErrNoAccessSecret, err)

	// unknown auth method
	conf.AuthMethod = "bogus"
	_, _, err = awss3.NewClient(conf)
	require.Equal(t, awss3.ErrNoAuth, err)
}

func TestNewSourceRequiresBucket(t *testing.T) {
	t.Parallel()

	settings := make(gou.JsonHelper)
	settings[awss3.ConfKeyAccessKey] = "fake-access-key"
	settings[awss3.ConfKeyAccessSecret] = "fake-access-secret"

	conf := &datamux.Config{
		Type:       awss3.SourceType,
		AuthMethod: awss3.AuthAccessKey,
		Settings:   settings,
	}
	client, sess, err := awss3.NewClient(conf)
	require.NoError(t, err)
	require.NotNil(t, sess)

	_, err = awss3.NewSource(client, sess, conf)
	require.Error(t, err)

	conf.Bucket = "datasets"
	src, err := awss3.NewSource(client, sess, conf)
	require.NoError(t, err)
	require.Equal(t, "s3://datasets/", src.Name())
	require.Equal(t, awss3.SourceType, src.Type())
}
