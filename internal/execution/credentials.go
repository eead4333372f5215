package execution

import (
	"context"
	"strings"
	"sync"

	"trade-engine/internal/config"
	"trade-engine/internal/trade"
)

// CredentialStore 按用户与交易所检索 API 凭据。
// 凭据缺失返回零值而非错误，由调用方决定降级路径。
type CredentialStore interface {
	Get(ctx context.Context, userID, exchange string) (trade.Credentials, error)
}

// StaticCredentialStore 由配置提供默认凭据，并支持按用户覆盖。
type StaticCredentialStore struct {
	mu       sync.RWMutex
	defaults map[string]trade.Credentials
	users    map[string]map[string]trade.Credentials // user -> exchange -> creds
}

// NewStaticCredentialStore 从交易所配置构建凭据仓库。
func NewStaticCredentialStore(cfg config.VenuesConfig) *StaticCredentialStore {
	toCreds := func(v config.VenueConfig) trade.Credentials {
		return trade.Credentials{
			APIKey:     v.APIKey,
			APISecret:  v.APISecret,
			Passphrase: v.Passphrase,
		}
	}
	return &StaticCredentialStore{
		defaults: map[string]trade.Credentials{
			"binance":  toCreds(cfg.Binance),
			"kraken":   toCreds(cfg.Kraken),
			"coinbase": toCreds(cfg.Coinbase),
		},
		users: make(map[string]map[string]trade.Credentials),
	}
}

// SetUserCredentials 注册某个用户在指定交易所的专属凭据。
func (s *StaticCredentialStore) SetUserCredentials(userID, exchange string, creds trade.Credentials) {
	exchange = strings.ToLower(exchange)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[userID] == nil {
		s.users[userID] = make(map[string]trade.Credentials)
	}
	s.users[userID][exchange] = creds
}

// Get 返回用户凭据，用户级覆盖优先于配置默认值；
// 两者皆无时返回零值。
func (s *StaticCredentialStore) Get(ctx context.Context, userID, exchange string) (trade.Credentials, error) {
	exchange = strings.ToLower(exchange)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if perUser, ok := s.users[userID]; ok {
		if creds, ok := perUser[exchange]; ok {
			return creds, nil
		}
	}
	return s.defaults[exchange], nil
}
