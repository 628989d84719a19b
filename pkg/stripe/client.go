package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	webhookSecretPrefix = "whsec_"
)

var (
	ErrNotInitialized = errors.New("stripe client not initialized")

	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errSecretMalformed  = fmt.Errorf("stripe webhook secret must start with %q", webhookSecretPrefix)
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Secret and restricted key prefixes accepted per environment.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// Client is the payments gateway to Stripe. It holds one SDK client per
// process and the webhook signing secret for the same account.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
}

// Option customizes the underlying Stripe backends.
type Option func(*stripe.BackendConfig)

// WithBaseURL points every Stripe call at url.
func WithBaseURL(url string) Option {
	return func(cfg *stripe.BackendConfig) {
		cfg.URL = stripe.String(url)
	}
}

// NewClient checks that the key matches the configured environment and
// builds the SDK client. Network retries are off; a failed call is reported
// to the caller, who decides whether the intent can be retried.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	switch {
	case apiKey == "":
		return nil, errAPIKeyRequired
	case signingSecret == "":
		return nil, errSecretRequired
	case !strings.HasPrefix(signingSecret, webhookSecretPrefix):
		return nil, errSecretMalformed
	case !hasAnyPrefix(apiKey, prefixes):
		return nil, fmt.Errorf("stripe environment %q requires a key starting with one of %v", env, prefixes)
	}

	backendCfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	for _, opt := range opts {
		opt(backendCfg)
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":      env,
			"stripe_key_kind": apiKey[:2],
			"currency":        cfg.ChargeCurrency(),
		}), "stripe client initialized")
	}

	return &Client{
		api:           stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg))),
		environment:   env,
		signingSecret: signingSecret,
	}, nil
}

// Environment reports test or live.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func (c *Client) ready() error {
	if c == nil || c.api == nil {
		return ErrNotInitialized
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
