package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sparkflowhq/sparkflow/internal/pkg/env"
)

// EventTypeCheckoutCompleted is the only webhook event type that mutates the
// credit ledger; everything else is acknowledged and ignored.
const EventTypeCheckoutCompleted = "checkout.session.completed"

// Client wraps the Stripe API for checkout session management and webhook
// verification. Construct it explicitly and pass it to whoever needs it so
// tests can substitute a fake provider.
type Client struct {
	api           *client.API
	webhookSecret string
	appURL        string
}

// NewClient creates a Stripe client with explicit configuration.
func NewClient(secretKey, webhookSecret, appURL string) *Client {
	api := &client.API{}
	api.Init(strings.TrimSpace(secretKey), nil)
	return &Client{
		api:           api,
		webhookSecret: strings.TrimSpace(webhookSecret),
		appURL:        strings.TrimRight(strings.TrimSpace(appURL), "/"),
	}
}

// NewClientFromEnv creates a Stripe client from STRIPE_SECRET_KEY,
// STRIPE_WEBHOOK_SECRET and APP_URL.
func NewClientFromEnv() *Client {
	return NewClient(
		env.GetEnv("STRIPE_SECRET_KEY", ""),
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		env.GetEnv("APP_URL", "http://localhost:4000"),
	)
}

// CreateCheckoutSession opens a hosted one-time payment session for the given
// price and returns the redirect URL. The user id travels in the session
// metadata so the webhook can credit the right profile.
func (c *Client) CreateCheckoutSession(ctx context.Context, userID, priceID string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(priceID) == "" {
		return "", errors.New("user id and price id are required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.appURL + "?success=1"),
		CancelURL:  stripe.String(c.appURL + "?canceled=1"),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("checkout session create failed: %w", err)
	}
	return sess.URL, nil
}

// RetrieveSessionWithLineItems fetches the full checkout session with line
// items expanded, which is where the purchased price id lives.
func (c *Client) RetrieveSessionWithLineItems(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	sess, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("checkout session retrieve failed: %w", err)
	}
	return sess, nil
}

// VerifyWebhookEvent checks the Stripe-Signature header against the raw,
// unparsed request body. Parsing first and re-serializing would break the
// signature match. The endpoint's API version is pinned in the Stripe
// dashboard, not in this SDK, so version mismatches are not an error.
func (c *Client) VerifyWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if c.webhookSecret == "" {
		return stripe.Event{}, errors.New("STRIPE_WEBHOOK_SECRET is not configured")
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
