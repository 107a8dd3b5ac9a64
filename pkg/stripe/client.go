package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

// Mode is the Stripe account mode a deployment runs against.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Secret and restricted keys both carry the mode in their prefix.
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

var (
	errNoAPIKey        = errors.New("stripe api key is required")
	errNoWebhookSecret = errors.New("stripe webhook signing secret is required")
)

// Client opens checkout sessions for pending orders and carries the webhook
// signing secret used by the payment notification endpoint.
type Client struct {
	mode          Mode
	signingSecret string
	checkout      checkoutDefaults
	newSession    func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errNoAPIKey
	}
	if err := checkKeyMode(mode, key); err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errNoWebhookSecret
	}

	stripe.Key = key

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client ready")
	}
	return &Client{
		mode:          mode,
		signingSecret: secret,
		checkout:      defaultsFromConfig(cfg),
		newSession:    session.New,
	}, nil
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret returns the webhook endpoint secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func parseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("stripe mode %q is not one of %q, %q", raw, ModeTest, ModeLive)
	}
}

func checkKeyMode(mode Mode, key string) error {
	for _, prefix := range keyPrefixes[mode] {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode needs a %s key (%s)", mode, mode, strings.Join(keyPrefixes[mode], ", "))
}
