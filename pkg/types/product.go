package types

import "time"

type ProductType string

const (
	ProductTypeAutoRenewableSubscription ProductType = "auto_renewable_subscription"
	ProductTypeNonRenewableSubscription  ProductType = "non_renewable_subscription"
	ProductTypeNonConsumable             ProductType = "non_consumable"
)

// Product is a catalog entry keyed by the store product identifier.
type Product struct {
	ID   string      `json:"id" mapstructure:"id"`
	Type ProductType `json:"type" mapstructure:"type"`
	// DurationHour is the access window granted by a non-renewing purchase; nil for everything else.
	DurationHour *int64 `json:"duration_hour" mapstructure:"duration_hour"`
	// Months is the billing period length, used for reporting only.
	Months int `json:"months" mapstructure:"months"`
}

func (p *Product) Renewable() bool {
	return p != nil && p.Type == ProductTypeAutoRenewableSubscription
}

// Duration returns the fixed access window for non-renewing products.
func (p *Product) Duration() (time.Duration, bool) {
	if p == nil || p.Type != ProductTypeNonRenewableSubscription || p.DurationHour == nil || *p.DurationHour <= 0 {
		return 0, false
	}
	return time.Duration(*p.DurationHour) * time.Hour, true
}
