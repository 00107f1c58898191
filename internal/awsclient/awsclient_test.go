package awsclient_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/awsclient"
)

func TestLoad_WithEndpoint(t *testing.T) {
	cfg := awsclient.Config{
		Region:   "ap-south-1",
		Endpoint: "http://localhost:4566",
		Timeout:  3 * time.Second,
	}

	awsCfg, err := awsclient.Load(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "ap-south-1", awsCfg.Region)
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	httpClient, ok := awsCfg.HTTPClient.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, httpClient.Timeout)

	assert.NotNil(t, awsclient.NewSNS(awsCfg, cfg))
	assert.NotNil(t, awsclient.NewSecretsManager(awsCfg, cfg))
	assert.NotNil(t, awsclient.NewSSM(awsCfg, cfg))
}
