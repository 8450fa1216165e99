package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/sparkflowhq/sparkflow/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostGenerateScript runs one script generation for a user.
func (s *APIServer) PostGenerateScript(c *fiber.Ctx) error {
	return controllers.HandleGenerateScript(c)
}

// GetScripts returns the generation history for a user.
func (s *APIServer) GetScripts(c *fiber.Ctx) error {
	return controllers.HandleListScripts(c)
}

// GetCredits returns the credit balance for a user.
func (s *APIServer) GetCredits(c *fiber.Ctx) error {
	return controllers.HandleGetCredits(c)
}

// GetBillingPackages returns the purchasable credit packs.
func (s *APIServer) GetBillingPackages(c *fiber.Ctx) error {
	return controllers.HandleListPackages(c)
}

// PostBillingCheckout opens a hosted checkout session.
func (s *APIServer) PostBillingCheckout(c *fiber.Ctx) error {
	return controllers.HandleCreateCheckout(c)
}

// PostBillingWebhook receives payment notifications from Stripe.
func (s *APIServer) PostBillingWebhook(c *fiber.Ctx) error {
	return controllers.HandleStripeWebhook(c)
}
