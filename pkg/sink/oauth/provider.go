// Package oauth implements sink.AuthProvider with the OAuth2 client
// credentials grant.
package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config configures the client credentials flow.
type Config struct {
	ClientID     string        `yaml:"client_id" json:"client_id"`
	ClientSecret string        `yaml:"client_secret" json:"client_secret"`
	TokenURL     string        `yaml:"token_url" json:"token_url"`
	Scopes       []string      `yaml:"scopes" json:"scopes"`
	// RefreshThreshold treats tokens expiring within this window as expired.
	RefreshThreshold time.Duration `yaml:"refresh_threshold" json:"refresh_threshold"`
}

// Provider caches a client credentials token and refreshes it on demand.
type Provider struct {
	config    *clientcredentials.Config
	threshold time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	current *oauth2.Token
}

// NewProvider creates a provider. No token is fetched until first use.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.RefreshThreshold == 0 {
		cfg.RefreshThreshold = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		config: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		threshold: cfg.RefreshThreshold,
		logger:    logger.With(zap.String("component", "oauth_provider")),
	}
}

// Token returns the cached token, fetching a new one when missing or close
// to expiry.
func (p *Provider) Token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Valid() &&
		(p.current.Expiry.IsZero() || time.Until(p.current.Expiry) > p.threshold) {
		return p.current, nil
	}
	return p.fetchLocked(ctx)
}

// Refresh discards the cached token and fetches a new one.
func (p *Provider) Refresh(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = nil
	return p.fetchLocked(ctx)
}

func (p *Provider) fetchLocked(ctx context.Context) (*oauth2.Token, error) {
	tok, err := p.config.Token(ctx)
	if err != nil {
		p.logger.Warn("token request failed", zap.Error(err))
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeAuthentication, "failed to obtain access token").
			WithDetail("token_url", p.config.TokenURL)
	}
	p.current = tok
	p.logger.Debug("access token obtained", zap.Time("expiry", tok.Expiry))
	return tok, nil
}
