package credits

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sparkflowhq/sparkflow/app/models"
	"gorm.io/gorm"
)

// GenerationCost is the number of credits one generation consumes.
const GenerationCost = 1

// FreeDailyLimit is the number of generations allowed per UTC calendar day,
// independent of the paid credit balance.
const FreeDailyLimit = 3

var (
	// ErrInsufficientCredits signals a balance below the generation cost.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDailyQuotaExceeded signals that the free daily limit is used up.
	ErrDailyQuotaExceeded = errors.New("daily quota exceeded")
)

// Service owns the credit ledger: debits on generation, credits on payment
// and the daily quota. All state lives in the injected repository.
type Service struct {
	repo   Repository
	prices PriceTable
}

// NewService creates a credits service from an injected repository.
func NewService(repo Repository, prices PriceTable) *Service {
	return &Service{repo: repo, prices: prices}
}

// NewServiceFromDB creates a credits service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, prices PriceTable) *Service {
	return NewService(NewRepository(db), prices)
}

// Prices returns the loaded price catalog.
func (s *Service) Prices() PriceTable {
	return s.prices
}

// Balance returns the current credit balance, lazily provisioning the
// profile on first access.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	_ = ctx
	balance, err := s.repo.GetCredits(userID)
	if err != nil {
		return 0, fmt.Errorf("account lookup failed: %w", err)
	}
	return balance, nil
}

// CheckBalance fails with ErrInsufficientCredits when the balance does not
// cover one generation. Callers run this before invoking the generator.
func (s *Service) CheckBalance(ctx context.Context, userID string) error {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < GenerationCost {
		return ErrInsufficientCredits
	}
	return nil
}

// CheckDailyQuota counts the user's generations since UTC midnight of now
// and fails with ErrDailyQuotaExceeded at the free daily limit. The check is
// independent of the credit balance.
func (s *Service) CheckDailyQuota(ctx context.Context, userID string, now time.Time) error {
	_ = ctx
	count, err := s.repo.CountScriptsSince(userID, StartOfUTCDay(now))
	if err != nil {
		return fmt.Errorf("quota lookup failed: %w", err)
	}
	if count >= FreeDailyLimit {
		return ErrDailyQuotaExceeded
	}
	return nil
}

// Debit removes one generation's worth of credits. The decrement is a single
// conditional UPDATE, so racing debits for the same profile cannot commit a
// negative balance; the loser gets ErrInsufficientCredits.
func (s *Service) Debit(ctx context.Context, userID string) error {
	_ = ctx
	ok, err := s.repo.DecrementCreditsIfAvailable(userID, GenerationCost)
	if err != nil {
		return fmt.Errorf("ledger write failed: %w", err)
	}
	if !ok {
		return ErrInsufficientCredits
	}
	return nil
}

// RecordScript appends the audit row for a successful generation.
func (s *Service) RecordScript(ctx context.Context, userID, prompt, platform, scriptText string) (*models.Script, error) {
	_ = ctx
	script := &models.Script{
		UserID:     userID,
		Prompt:     prompt,
		Platform:   platform,
		ScriptText: scriptText,
	}
	if err := s.repo.CreateScript(script); err != nil {
		return nil, err
	}
	return script, nil
}

// History returns the user's most recent scripts, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.Script, error) {
	_ = ctx
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListScriptsByUser(userID, limit)
}

// ResolveCredits maps a price id to a credit amount via the catalog.
func (s *Service) ResolveCredits(priceID string) (int64, bool) {
	return s.prices.CreditsFor(priceID)
}

// ApplyPurchase credits a completed checkout session exactly once. Replays
// with the same session id report Applied=false and leave the balance alone;
// unmapped prices grant nothing and are not an error.
func (s *Service) ApplyPurchase(ctx context.Context, sessionID, userID, priceID string) (PurchaseResult, error) {
	_ = ctx
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return PurchaseResult{}, errors.New("session_id and user_id are required")
	}

	amount, ok := s.prices.CreditsFor(priceID)
	if !ok {
		return PurchaseResult{}, nil
	}

	applied, err := s.repo.ApplyCreditGrant(&models.CreditGrant{
		SessionID: sessionID,
		UserID:    userID,
		PriceID:   strings.TrimSpace(priceID),
		Credits:   amount,
	})
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("ledger write failed: %w", err)
	}
	return PurchaseResult{Applied: applied, Credits: amount}, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.PaymentWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// StartOfUTCDay truncates t to UTC midnight. The quota day boundary is the
// UTC calendar date, not the server's local date.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
