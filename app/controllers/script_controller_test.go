package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkflowhq/sparkflow/app/models"
	"github.com/sparkflowhq/sparkflow/internal/pkg/credits"
)

func newScriptTestApp(t *testing.T, repo credits.Repository, gen ScriptGenerator) *fiber.App {
	t.Helper()
	svc := credits.NewService(repo, credits.PriceTable{"price_test_10": 10})
	InitializeScriptController(svc, gen)

	app := fiber.New()
	app.Post("/api/v1/scripts/generate", HandleGenerateScript)
	app.Get("/api/v1/scripts", HandleListScripts)
	app.Get("/api/v1/credits", HandleGetCredits)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func generatePayload(userID string) string {
	return `{"prompt":"Write a hook about coffee","platform":"TikTok","userId":"` + userID + `"}`
}

func TestHandleGenerateScriptValidation(t *testing.T) {
	repo := newMemLedger()
	gen := &fakeGenerator{script: "Hook: coffee is life."}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", "{not json")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_json", body["error"])

	resp, body = postJSON(t, app, "/api/v1/scripts/generate", `{"prompt":"hi"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])

	assert.Equal(t, 0, gen.callCount())
}

func TestHandleGenerateScriptInsufficientCredits(t *testing.T) {
	repo := newMemLedger()
	gen := &fakeGenerator{script: "never used"}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-broke"))
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_credits", body["error"])

	// A zero balance must never reach the model.
	assert.Equal(t, 0, gen.callCount())
	assert.Equal(t, int64(0), repo.balance("user-broke"))
}

func TestHandleGenerateScriptDailyQuota(t *testing.T) {
	repo := newMemLedger()
	repo.profile["user-1"] = 5
	for i := 0; i < credits.FreeDailyLimit; i++ {
		require.NoError(t, repo.CreateScript(&models.Script{UserID: "user-1", Prompt: "p", Platform: "TikTok", ScriptText: "s"}))
	}
	gen := &fakeGenerator{script: "never used"}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "daily_quota_exceeded", body["error"])

	// Quota wins over balance: credits are untouched and no generation ran.
	assert.Equal(t, 0, gen.callCount())
	assert.Equal(t, int64(5), repo.balance("user-1"))
}

func TestHandleGenerateScriptGeneratorFailure(t *testing.T) {
	repo := newMemLedger()
	repo.profile["user-1"] = 1
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "generation_failed", body["error"])

	// Failed generations cost nothing.
	assert.Equal(t, int64(1), repo.balance("user-1"))
	assert.Empty(t, repo.scripts)
}

func TestHandleGenerateScriptSuccess(t *testing.T) {
	repo := newMemLedger()
	repo.profile["user-1"] = 1
	gen := &fakeGenerator{script: "Hook: your morning coffee is lying to you."}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hook: your morning coffee is lying to you.", body["script"])

	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, int64(0), repo.balance("user-1"))

	require.Len(t, repo.scripts, 1)
	assert.Equal(t, "user-1", repo.scripts[0].UserID)
	assert.Equal(t, "TikTok", repo.scripts[0].Platform)
	assert.Equal(t, "Write a hook about coffee", repo.scripts[0].Prompt)
}

func TestHandleListScripts(t *testing.T) {
	repo := newMemLedger()
	require.NoError(t, repo.CreateScript(&models.Script{UserID: "user-1", Prompt: "first", Platform: "TikTok", ScriptText: "a"}))
	require.NoError(t, repo.CreateScript(&models.Script{UserID: "user-1", Prompt: "second", Platform: "Reels", ScriptText: "b"}))
	require.NoError(t, repo.CreateScript(&models.Script{UserID: "user-2", Prompt: "other", Platform: "Shorts", ScriptText: "c"}))
	app := newScriptTestApp(t, repo, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts?user_id=user-1", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	scripts, ok := body["scripts"].([]interface{})
	require.True(t, ok)
	require.Len(t, scripts, 2)

	// Newest first.
	first := scripts[0].(map[string]interface{})
	assert.Equal(t, "second", first["prompt"])
}

func TestHandleListScriptsRequiresUser(t *testing.T) {
	app := newScriptTestApp(t, newMemLedger(), &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleGenerateScriptBalanceLookupFailure(t *testing.T) {
	repo := newMemLedger()
	repo.creditsErr = errors.New("connection reset")
	gen := &fakeGenerator{script: "never used"}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "account_lookup_failed", body["error"])
	assert.Equal(t, 0, gen.callCount())
}

func TestHandleGenerateScriptQuotaLookupFailure(t *testing.T) {
	repo := newMemLedger()
	repo.profile["user-1"] = 5
	repo.countErr = errors.New("connection reset")
	gen := &fakeGenerator{script: "never used"}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "quota_check_failed", body["error"])
	assert.Equal(t, 0, gen.callCount())
}

func TestHandleGenerateScriptDebitFailureStillReturnsScript(t *testing.T) {
	repo := newMemLedger()
	repo.profile["user-1"] = 1
	repo.decrementErr = errors.New("connection reset")
	gen := &fakeGenerator{script: "Hook: the espresso shot you skipped."}
	app := newScriptTestApp(t, repo, gen)

	// The model already produced output; a failed debit is an under-charge
	// to reconcile later, not a reason to discard the script.
	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hook: the espresso shot you skipped.", body["script"])

	// Balance is untouched and the audit row still exists, so the missed
	// debit can be reconciled from the trail.
	assert.Equal(t, int64(1), repo.balance("user-1"))
	require.Len(t, repo.scripts, 1)
	assert.Equal(t, "user-1", repo.scripts[0].UserID)
}

func TestHandleGenerateScriptAuditWriteFailure(t *testing.T) {
	repo := newMemLedger()
	repo.profile["user-1"] = 1
	repo.createErr = errors.New("connection reset")
	gen := &fakeGenerator{script: "Hook: cold brew, hot take."}
	app := newScriptTestApp(t, repo, gen)

	resp, body := postJSON(t, app, "/api/v1/scripts/generate", generatePayload("user-1"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hook: cold brew, hot take.", body["script"])

	// The debit went through even though the audit append did not.
	assert.Equal(t, int64(0), repo.balance("user-1"))
	assert.Empty(t, repo.scripts)
}
