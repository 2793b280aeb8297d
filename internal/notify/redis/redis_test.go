package redis

import (
	"context"
	"testing"
	"time"

	"github.com/koustreak/mediavault/internal/errs"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Addr: "x:1", DB: -1}).Validate())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestPublish_UnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewWithClient(client, "mv:")
	defer p.Close()

	err := p.Publish(context.Background(), "file.uploaded", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errs.IsNotificationFailure(err))
}
