package google_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lytics/datamux"
	"github.com/lytics/datamux/google"
)

func TestBuildJWTTransporterBadKey(t *testing.T) {
	t.Parallel()

	_, err := google.BuildJWTTransporter(&datamux.JwtConf{
		PrivateKeyBase64: "!!! not base64 !!!",
		ClientEmail:      "svc@project.iam.gserviceaccount.com",
	})
	require.Error(t, err)
}

func TestNewSourceRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := google.NewSource(nil, &datamux.Config{Type: google.SourceType})
	require.Error(t, err)

	src, err := google.NewSource(nil, &datamux.Config{Type: google.SourceType, Bucket: "training-data"})
	require.NoError(t, err)
	require.Equal(t, "gs://training-data/", src.Name())
	require.Equal(t, google.SourceType, src.Type())
}
