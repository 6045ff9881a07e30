package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
)

// ErrInvalidToken is returned when a token is unknown or empty
var ErrInvalidToken = errors.New("invalid token")

const tokenKeyPrefix = "token:"

// Service validates bearer tokens against the kv store. Tokens are
// seeded from config at startup; operators can add or revoke tokens at
// runtime through the kv surface without a restart.
type Service struct {
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewService creates an auth service and seeds the configured tokens
func NewService(kv interfaces.KeyValueStorage, config *common.AuthConfig, logger arbor.ILogger) (*Service, error) {
	svc := &Service{
		kv:     kv,
		logger: logger,
	}

	ctx := context.Background()
	for _, tc := range config.Tokens {
		if tc.Token == "" {
			continue
		}
		ownerID := tc.OwnerID
		if ownerID == "" {
			ownerID = "admin"
		}
		if err := kv.Set(ctx, tokenKeyPrefix+tc.Token, ownerID); err != nil {
			return nil, fmt.Errorf("failed to seed auth token: %w", err)
		}
	}
	if len(config.Tokens) > 0 {
		logger.Info().Int("count", len(config.Tokens)).Msg("Auth tokens seeded")
	}

	return svc, nil
}

var _ interfaces.AuthService = (*Service)(nil)

// ValidateToken resolves a token to its owner identity
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	ownerID, err := s.kv.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("token lookup failed: %w", err)
	}
	if ownerID == "" {
		return "", ErrInvalidToken
	}

	return ownerID, nil
}
