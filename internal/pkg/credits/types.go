package credits

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// PurchaseResult reports the outcome of applying a checkout session to a
// profile balance.
type PurchaseResult struct {
	Applied bool
	Credits int64
}
