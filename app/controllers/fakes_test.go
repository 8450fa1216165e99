package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v76"

	"github.com/sparkflowhq/sparkflow/app/models"
	"github.com/sparkflowhq/sparkflow/internal/pkg/payments"
)

// memLedger is an in-memory credits.Repository for handler tests. Mutations
// are atomic under one lock, mirroring the conditional SQL of the GORM
// implementation.
type memLedger struct {
	mu      sync.Mutex
	nextID  uint
	profile map[string]int64
	grants  map[string]*models.CreditGrant
	scripts []*models.Script
	events  map[string]*models.PaymentWebhookEvent

	// Injectable storage failures.
	creditsErr   error
	decrementErr error
	grantErr     error
	countErr     error
	createErr    error
}

func newMemLedger() *memLedger {
	return &memLedger{
		profile: make(map[string]int64),
		grants:  make(map[string]*models.CreditGrant),
		events:  make(map[string]*models.PaymentWebhookEvent),
	}
}

func (r *memLedger) balance(userID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile[userID]
}

func (r *memLedger) GetOrCreateProfile(userID string) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profile[userID]; !ok {
		r.profile[userID] = 0
	}
	return &models.Profile{ID: userID, Credits: r.profile[userID]}, nil
}

func (r *memLedger) GetCredits(userID string) (int64, error) {
	if r.creditsErr != nil {
		return 0, r.creditsErr
	}
	p, err := r.GetOrCreateProfile(userID)
	if err != nil {
		return 0, err
	}
	return p.Credits, nil
}

func (r *memLedger) DecrementCreditsIfAvailable(userID string, amount int64) (bool, error) {
	if r.decrementErr != nil {
		return false, r.decrementErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile[userID] < amount {
		return false, nil
	}
	r.profile[userID] -= amount
	return true, nil
}

func (r *memLedger) ApplyCreditGrant(grant *models.CreditGrant) (bool, error) {
	if r.grantErr != nil {
		return false, r.grantErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[grant.SessionID]; ok {
		return false, nil
	}
	r.nextID++
	grant.ID = r.nextID
	r.grants[grant.SessionID] = grant
	r.profile[grant.UserID] += grant.Credits
	return true, nil
}

func (r *memLedger) CountScriptsSince(userID string, since time.Time) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, s := range r.scripts {
		if s.UserID == userID && !s.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memLedger) CreateScript(script *models.Script) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if script.CreatedAt.IsZero() {
		script.CreatedAt = time.Now().UTC()
	}
	r.nextID++
	script.ID = r.nextID
	r.scripts = append(r.scripts, script)
	return nil
}

func (r *memLedger) ListScriptsByUser(userID string, limit int) ([]models.Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Script
	for i := len(r.scripts) - 1; i >= 0 && len(out) < limit; i-- {
		if r.scripts[i].UserID == userID {
			out = append(out, *r.scripts[i])
		}
	}
	return out, nil
}

func (r *memLedger) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		return false, stored, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = event
	return true, event, nil
}

func (r *memLedger) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, e := range r.events {
		if e.ID == id {
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("webhook event %d not found", id)
}

// fakeGenerator returns a canned script and counts invocations.
type fakeGenerator struct {
	mu     sync.Mutex
	script string
	err    error
	calls  int
}

func (g *fakeGenerator) GenerateScript(ctx context.Context, prompt, platform string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.script, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeProvider serves checkout sessions from a map. Webhook verification
// delegates to the real Stripe client so signature handling stays honest.
type fakeProvider struct {
	verifier    *payments.Client
	checkoutURL string
	createErr   error
	retrieveErr error
	sessions    map[string]*stripe.CheckoutSession
}

func newFakeProvider(webhookSecret string) *fakeProvider {
	return &fakeProvider{
		verifier:    payments.NewClient("sk_test_key", webhookSecret, "http://localhost:4000"),
		checkoutURL: "https://checkout.stripe.com/c/pay/cs_test_fake",
		sessions:    make(map[string]*stripe.CheckoutSession),
	}
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, userID, priceID string) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	return p.checkoutURL, nil
}

func (p *fakeProvider) RetrieveSessionWithLineItems(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	sess, ok := p.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	return sess, nil
}

func (p *fakeProvider) VerifyWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return p.verifier.VerifyWebhookEvent(payload, sigHeader)
}

// stripeSignature builds a Stripe-Signature header the way the sender does:
// v1 is an HMAC-SHA256 of "<timestamp>.<payload>".
func stripeSignature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
