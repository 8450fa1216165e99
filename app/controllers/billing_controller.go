package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/sparkflowhq/sparkflow/app/models"
	"github.com/sparkflowhq/sparkflow/internal/pkg/cache"
	"github.com/sparkflowhq/sparkflow/internal/pkg/credits"
	"github.com/sparkflowhq/sparkflow/internal/pkg/payments"
)

// PaymentProvider is the payment-platform collaborator consumed by the
// billing controller. The production implementation lives in
// internal/pkg/payments.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, userID, priceID string) (string, error)
	RetrieveSessionWithLineItems(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	VerifyWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

var (
	billingCreditsService *credits.Service
	billingProvider       PaymentProvider
)

// InitializeBillingController wires the billing controller with its
// dependencies. Tests substitute fakes here.
func InitializeBillingController(svc *credits.Service, provider PaymentProvider) {
	billingCreditsService = svc
	billingProvider = provider
}

// CreateCheckoutRequest is the JSON body for checkout session creation.
type CreateCheckoutRequest struct {
	UserID  string `json:"userId" validate:"required,min=1,max=64"`
	PriceID string `json:"priceId" validate:"required,min=1,max=191"`
}

// HandleCreateCheckout opens a hosted checkout session for a credit pack and
// returns the redirect URL.
func HandleCreateCheckout(c *fiber.Ctx) error {
	var req CreateCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json", "message": "Request body must be valid JSON"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Missing userId or priceId"})
	}
	if _, ok := billingCreditsService.ResolveCredits(req.PriceID); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_price", "message": "Price is not part of the catalog"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url, err := billingProvider.CreateCheckoutSession(ctx, req.UserID, req.PriceID)
	if err != nil {
		log.Printf("checkout session create failed for user %s: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": url})
}

// HandleListPackages returns the purchasable credit packs.
func HandleListPackages(c *fiber.Ctx) error {
	type pack struct {
		PriceID string `json:"price_id"`
		Credits int64  `json:"credits"`
	}
	packs := make([]pack, 0, len(billingCreditsService.Prices()))
	for priceID, amount := range billingCreditsService.Prices() {
		packs = append(packs, pack{PriceID: priceID, Credits: amount})
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].Credits < packs[j].Credits })
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"packages": packs})
}

// HandleStripeWebhook processes payment notifications. Delivery is
// at-least-once: the event record dedupes replayed deliveries, and the
// credit grant keyed by session id makes the balance increment itself
// replay-safe. Ignored and unmapped events acknowledge with 200 so the
// sender stops retrying; only downstream failures return 500.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	sigHeader := strings.TrimSpace(c.Get("Stripe-Signature"))

	event, verifyErr := billingProvider.VerifyWebhookEvent(rawBody, sigHeader)
	signatureValid := verifyErr == nil

	eventID := ""
	eventType := ""
	if signatureValid {
		eventID = event.ID
		eventType = string(event.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := billingCreditsService.RecordWebhookEvent(ctx, credits.WebhookEventInput{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Printf("webhook persist failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !signatureValid {
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		// Replayed delivery of an event that already went through cleanly.
		// Events whose processing failed fall through and run again; the
		// grant keyed by session id keeps the rerun from double-crediting.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if eventType != payments.EventTypeCheckoutCompleted {
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	var eventSession stripe.CheckoutSession
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &eventSession) != nil || eventSession.ID == "" {
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, errors.New("malformed checkout session payload"))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	session, err := billingProvider.RetrieveSessionWithLineItems(ctx, eventSession.ID)
	if err != nil {
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_fetch_failed"})
	}

	userID := strings.TrimSpace(session.Metadata["user_id"])
	if userID == "" {
		userID = strings.TrimSpace(eventSession.Metadata["user_id"])
	}
	if userID == "" {
		// No account to credit. Client error, no mutation.
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, errors.New("missing user_id metadata"))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_user"})
	}

	priceID := ""
	if session.LineItems != nil && len(session.LineItems.Data) > 0 && session.LineItems.Data[0].Price != nil {
		priceID = session.LineItems.Data[0].Price.ID
	}
	if _, ok := billingCreditsService.ResolveCredits(priceID); !ok {
		// Unknown products grant zero credits rather than failing the webhook.
		log.Printf("webhook: unmapped price %q for session %s, no credits granted", priceID, session.ID)
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	result, err := billingCreditsService.ApplyPurchase(ctx, session.ID, userID, priceID)
	if err != nil {
		log.Printf("LEDGER: failed to credit session %s for user %s: %v", session.ID, userID, err)
		_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, err)
		// 500 tells the sender to retry; the grant row keyed by session id
		// keeps the retry from double-crediting.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credit_failed"})
	}

	_ = billingCreditsService.MarkWebhookProcessed(ctx, stored.ID, nil)
	if !result.Applied {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	_ = cache.Delete(creditsCacheKey(userID))
	log.Printf("credited user %s with %d credits for session %s", userID, result.Credits, session.ID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "credited": result.Credits})
}
