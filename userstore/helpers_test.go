package userstore

import (
	"context"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type discardSender struct{}

func (discardSender) Send(context.Context, string, goIdentity.Message) (string, error) {
	return "discarded", nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
