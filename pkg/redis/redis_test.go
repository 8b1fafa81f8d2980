package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNew(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := Config{URL: "redis://" + mr.Addr(), ReadTimeout: 1, WriteTimeout: 1, DialTimeout: 1}
	client, err := cfg.New(context.Background())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, time.Second, client.Options().ReadTimeout)
}

func TestConfigNewErrors(t *testing.T) {
	_, err := (&Config{}).New(context.Background())
	assert.Error(t, err)

	_, err = (&Config{URL: "not-a-url"}).New(context.Background())
	assert.Error(t, err)
}
