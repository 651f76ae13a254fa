//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/scm/core/queue"
)

func TestRedisPubSub(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("redis container: %v", err)
	}
	defer func() { _ = c.Terminate(context.Background()) }()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	addr := fmt.Sprintf("%s:%s", host, port.Port())

	src, err := NewSource(Config{Addr: addr})
	require.NoError(t, err)
	q := queue.New()
	srcCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- src.Run(srcCtx, q) }()

	pub := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = pub.Close() }()
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, "scm:reservations:site-1", "{}").Err()
		return q.Len() > 0
	}, 10*time.Second, 100*time.Millisecond)

	ev, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scm:reservations:site-1", ev.Detail)
	stop()
	require.NoError(t, <-done)
}
