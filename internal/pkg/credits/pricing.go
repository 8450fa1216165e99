package credits

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/sparkflowhq/sparkflow/internal/pkg/env"
)

// PriceTable maps Stripe price identifiers to the number of credits a
// completed checkout for that price grants. Both the checkout-creation and
// the webhook-crediting paths consult the same table.
type PriceTable map[string]int64

// defaultPriceTable is the shipped catalog. Prices not listed here grant
// zero credits: unknown products are acknowledged, not credited.
var defaultPriceTable = PriceTable{
	"price_1RgnmiCW3AW4tR76IWSrRht4": 10,
}

// NewPriceTableFromEnv loads the price catalog from the STRIPE_PRICE_CREDITS
// environment variable (a JSON object of price id to credit amount) and falls
// back to the shipped catalog when unset or invalid.
func NewPriceTableFromEnv() PriceTable {
	raw := strings.TrimSpace(env.GetEnv("STRIPE_PRICE_CREDITS", ""))
	if raw == "" {
		return defaultPriceTable
	}

	var table PriceTable
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		log.Printf("invalid STRIPE_PRICE_CREDITS, using default catalog: %v", err)
		return defaultPriceTable
	}
	if len(table) == 0 {
		return defaultPriceTable
	}
	return table
}

// CreditsFor resolves a price id to its credit amount. The second return
// value reports whether the price is part of the catalog.
func (t PriceTable) CreditsFor(priceID string) (int64, bool) {
	amount, ok := t[strings.TrimSpace(priceID)]
	if !ok || amount <= 0 {
		return 0, false
	}
	return amount, true
}
