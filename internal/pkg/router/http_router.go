package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sparkflowhq/sparkflow/internal/pkg/constants"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// The web UI is a separate client; the backend only exposes a service
	// info page at the root.
	app.Get(constants.PublicRoute, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"service": "sparkflow",
			"docs":    "/docs/api/v1",
		})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
