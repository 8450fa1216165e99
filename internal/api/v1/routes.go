package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the ping endpoint response body.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the handlers the v1 API exposes.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	PostGenerateScript(c *fiber.Ctx) error
	GetScripts(c *fiber.Ctx) error
	GetCredits(c *fiber.Ctx) error
	GetBillingPackages(c *fiber.Ctx) error
	PostBillingCheckout(c *fiber.Ctx) error
	PostBillingWebhook(c *fiber.Ctx) error
}

// RegisterHandlers attaches the v1 API routes to the given router group.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	router.Get("/ping", si.GetPing)

	router.Post("/scripts/generate", si.PostGenerateScript)
	router.Get("/scripts", si.GetScripts)

	router.Get("/credits", si.GetCredits)

	router.Get("/billing/packages", si.GetBillingPackages)
	router.Post("/billing/checkout", si.PostBillingCheckout)
	router.Post("/billing/webhook", si.PostBillingWebhook)
}
