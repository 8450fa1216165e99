package controllers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sparkflowhq/sparkflow/internal/pkg/cache"
	"github.com/sparkflowhq/sparkflow/internal/pkg/credits"
)

// generationTimeout bounds the call to the generation collaborator. A model
// that never answers fails the request instead of hanging it; no credits are
// consumed on timeout because the debit is ordered after success.
const generationTimeout = 30 * time.Second

const creditsCacheTTL = 30 * time.Second

// ScriptGenerator is the generation collaborator consumed by the script
// controller. The production implementation lives in internal/pkg/generator.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, prompt, platform string) (string, error)
}

var (
	scriptCreditsService *credits.Service
	scriptGenerator      ScriptGenerator
)

// InitializeScriptController wires the script controller with its
// dependencies. Tests substitute fakes here.
func InitializeScriptController(svc *credits.Service, gen ScriptGenerator) {
	scriptCreditsService = svc
	scriptGenerator = gen
}

// GenerateScriptRequest is the JSON body for script generation.
type GenerateScriptRequest struct {
	Prompt   string `json:"prompt" validate:"required,min=1,max=2000"`
	Platform string `json:"platform" validate:"required,min=2,max=32"`
	UserID   string `json:"userId" validate:"required,min=1,max=64"`
}

// HandleGenerateScript runs one generation: quota check, balance check,
// model call, conditional debit, audit append. The balance check happens
// before the model call and the debit happens after it; a zero balance never
// reaches the generator.
func HandleGenerateScript(c *fiber.Ctx) error {
	var req GenerateScriptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json", "message": "Request body must be valid JSON"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Missing prompt, platform or userId"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	if err := scriptCreditsService.CheckDailyQuota(ctx, req.UserID, time.Now()); err != nil {
		if errors.Is(err, credits.ErrDailyQuotaExceeded) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "daily_quota_exceeded", "message": "Free daily script limit reached, try again tomorrow"})
		}
		log.Printf("quota check failed for user %s: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "quota_check_failed"})
	}

	if err := scriptCreditsService.CheckBalance(ctx, req.UserID); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_credits", "message": "Not enough credits"})
		}
		log.Printf("balance lookup failed for user %s: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
	}

	script, err := scriptGenerator.GenerateScript(ctx, req.Prompt, req.Platform)
	if err != nil {
		log.Printf("generation failed for user %s: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "generation_failed"})
	}

	// The script exists from here on. A failed debit or audit write is an
	// under-charge, not a reason to discard paid-for output: log loudly so
	// the discrepancy can be reconciled from the audit trail.
	if err := scriptCreditsService.Debit(ctx, req.UserID); err != nil {
		log.Printf("LEDGER: missed debit for user %s after generation: %v", req.UserID, err)
	} else {
		_ = cache.Delete(creditsCacheKey(req.UserID))
	}

	if _, err := scriptCreditsService.RecordScript(ctx, req.UserID, req.Prompt, req.Platform, script); err != nil {
		log.Printf("LEDGER: failed to record script for user %s: %v", req.UserID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"script": script})
}

// HandleGetCredits returns the current balance, provisioning the profile on
// first access. Balances are cached briefly and invalidated on mutation.
func HandleGetCredits(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "user_id is required"})
	}

	if balance, err := cache.GetInt64(creditsCacheKey(userID)); err == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"credits": balance})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	balance, err := scriptCreditsService.Balance(ctx, userID)
	if err != nil {
		log.Printf("balance lookup failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
	}

	_ = cache.Set(creditsCacheKey(userID), balance, creditsCacheTTL)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"credits": balance})
}

// HandleListScripts returns the user's recent scripts, newest first.
func HandleListScripts(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "user_id is required"})
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scripts, err := scriptCreditsService.History(ctx, userID, limit)
	if err != nil {
		log.Printf("history lookup failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "history_lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"scripts": scripts})
}
