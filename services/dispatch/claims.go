package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"

	"github.com/redis/go-redis/v9"
)

// ClaimCache is a best-effort cross-instance duplicate suppressor in
// front of the store constraint. Losing a claim skips the item early;
// the store's unique fingerprint remains the correctness guarantee
// either way.
type ClaimCache interface {
	Claim(ctx context.Context, fingerprint loads.Fingerprint) (bool, error)
}

// NoopClaims grants every claim; the default for single-instance runs.
type NoopClaims struct{}

var _ ClaimCache = NoopClaims{}

func (NoopClaims) Claim(ctx context.Context, fingerprint loads.Fingerprint) (bool, error) {
	return true, nil
}

type RedisClaimsConfig struct {
	Addr     string        `json:"addr"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

// RedisClaims claims fingerprints with SET NX and a TTL so entries
// age out on their own.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ClaimCache = RedisClaims{}

func NewRedisClaims(config RedisClaimsConfig) RedisClaims {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = time.Hour * 24
	}
	return RedisClaims{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
		ttl: ttl,
	}
}

func (c RedisClaims) Claim(ctx context.Context, fingerprint loads.Fingerprint) (bool, error) {
	return c.client.SetNX(
		ctx,
		fmt.Sprintf("sent_load:%s", fingerprint),
		1,
		c.ttl,
	).Result()
}
