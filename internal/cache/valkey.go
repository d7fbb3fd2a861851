package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/MentalVibez/fleetdex/internal/config"
)

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible
// server via the valkey-go client.
type ValkeyProvider struct {
	client valkey.Client
}

// NewValkeyProvider connects to the configured Valkey instance. It pings the
// target so bad credentials or connectivity fail at startup rather than on
// the first cache read.
func NewValkeyProvider(cfg config.CacheConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}

	option := valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		Dialer:       net.Dialer{Timeout: cfg.DialTimeout},
		DisableCache: true,
	}
	if cfg.TLS {
		option.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, err
	}

	return &ValkeyProvider{client: client}, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	resp := p.client.Do(ctx, p.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return resp.AsBytes()
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	builder := p.client.B().Set().Key(key).Value(valkey.BinaryString(value))
	if ttl > 0 {
		return p.client.Do(ctx, builder.Ex(ttl).Build()).Error()
	}
	return p.client.Do(ctx, builder.Build()).Error()
}

// SetNX stores the value only if the key does not exist, reporting whether
// the write happened.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	builder := p.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Nx()
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}

	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.client.Do(ctx, p.client.B().Del().Key(key).Build()).Error()
}

// Close shuts down the underlying client.
func (p *ValkeyProvider) Close() error {
	p.client.Close()
	return nil
}
