package constants

// Static route constants
const (
	PublicRoute  = "/"
	APIRoute     = "/api"
	MetricsRoute = "/metrics"
	// Base path for the served OpenAPI documentation
	DocsRoute = "/docs/api/"
	// Payment provider callback, exempt from the API rate limit
	BillingWebhookRoute = "/api/v1/billing/webhook"
)
