/**
 * @description
 * This file defines the billing-side value objects: the closed set of biller
 * names, bin routing codes and their per-item/per-attempt collection, and the
 * merchant credentials bundle (`BillerMapping` + per-biller `BillerFields`)
 * resolved once per purchase and reused across cascaded cross-sales.
 */

package domain

import "fmt"

// BillerName identifies one of the supported payment-processor backends.
type BillerName string

const (
	BillerRocketgate BillerName = "rocketgate"
	BillerNetbilling BillerName = "netbilling"
	BillerEpoch      BillerName = "epoch"
	BillerQysso      BillerName = "qysso"
)

// ParseBillerName maps a raw name to a known biller.
func ParseBillerName(name string) (BillerName, error) {
	switch BillerName(name) {
	case BillerRocketgate, BillerNetbilling, BillerEpoch, BillerQysso:
		return BillerName(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBillerName, name)
}

// BinRouting is one processor routing code candidate for a given attempt index.
type BinRouting struct {
	Attempt     int    `json:"attempt"`
	RoutingCode string `json:"routing_code"`
}

// BinRoutingCollection holds routing code candidates keyed per item and
// attempt index. When it holds exactly one entry that entry is shared across
// every attempt of every item (single-candidate short-circuit in the attempt
// loop).
type BinRoutingCollection struct {
	entries map[string]BinRouting
}

// NewBinRoutingCollection returns an empty collection.
func NewBinRoutingCollection() *BinRoutingCollection {
	return &BinRoutingCollection{entries: make(map[string]BinRouting)}
}

// SingleEntryCollection builds a collection holding one shared routing code.
// Used to carry the main item's successful routing into cross-sale attempts.
func SingleEntryCollection(routingCode string) *BinRoutingCollection {
	c := NewBinRoutingCollection()
	if routingCode != "" {
		c.entries["shared"] = BinRouting{Attempt: 1, RoutingCode: routingCode}
	}
	return c
}

// Add registers a routing candidate for (itemID, attempt).
func (c *BinRoutingCollection) Add(itemID string, routing BinRouting) {
	c.entries[binRoutingKey(itemID, routing.Attempt)] = routing
}

// Get returns the candidate keyed by (itemID, attempt), if any.
func (c *BinRoutingCollection) Get(itemID string, attempt int) (BinRouting, bool) {
	if c == nil {
		return BinRouting{}, false
	}
	r, ok := c.entries[binRoutingKey(itemID, attempt)]
	return r, ok
}

// Single returns the sole entry when exactly one candidate exists.
func (c *BinRoutingCollection) Single() (BinRouting, bool) {
	if c == nil || len(c.entries) != 1 {
		return BinRouting{}, false
	}
	for _, r := range c.entries {
		return r, true
	}
	return BinRouting{}, false
}

// IsEmpty reports whether the collection has no candidates.
func (c *BinRoutingCollection) IsEmpty() bool { return c == nil || len(c.entries) == 0 }

func binRoutingKey(itemID string, attempt int) string {
	return fmt.Sprintf("%s:%d", itemID, attempt)
}

// BillerFields is the per-biller merchant credentials variant carried inside
// a BillerMapping. The concrete types below are the only implementations.
type BillerFields interface {
	Biller() BillerName
}

// RocketgateFields are the merchant credentials for the Rocketgate gateway.
type RocketgateFields struct {
	MerchantID       string `json:"merchant_id"`
	MerchantPassword string `json:"merchant_password"`
	MerchantSiteID   string `json:"merchant_site_id"`
	SharedSecret     string `json:"shared_secret"`
	Simplified3DS    bool   `json:"simplified_3ds"`
}

func (RocketgateFields) Biller() BillerName { return BillerRocketgate }

// NetbillingFields are the merchant credentials for Netbilling.
type NetbillingFields struct {
	AccountID          string `json:"account_id"`
	SiteTag            string `json:"site_tag"`
	MerchantPassword   string `json:"merchant_password"`
	BinRoutingOverride string `json:"bin_routing_override,omitempty"`
}

func (NetbillingFields) Biller() BillerName { return BillerNetbilling }

// EpochFields are the merchant credentials for Epoch.
type EpochFields struct {
	ClientID        string `json:"client_id"`
	ClientKey       string `json:"client_key"`
	VerificationKey string `json:"client_verification_key"`
}

func (EpochFields) Biller() BillerName { return BillerEpoch }

// QyssoFields are the merchant credentials for Qysso.
type QyssoFields struct {
	CompanyNum          string `json:"company_num"`
	PersonalHashKey     string `json:"personal_hash_key"`
	NotificationVersion int    `json:"notification_version,omitempty"`
}

func (QyssoFields) Biller() BillerName { return BillerQysso }

// Simplified3DSEnabled reports whether the mapping's credentials enable the
// simplified (return-URL based) 3DS completion flow. Only Rocketgate carries
// the flag; every other biller resolves to false.
func Simplified3DSEnabled(f BillerFields) bool {
	rg, ok := f.(RocketgateFields)
	if !ok {
		return false
	}
	return rg.Simplified3DS
}

// BillerMapping is the merchant credentials bundle for one biller, resolved
// once per purchase and reused for cascading cross-sales.
type BillerMapping struct {
	SiteID             string       `json:"site_id"`
	BusinessGroupID    string       `json:"business_group_id"`
	CurrencyCode       string       `json:"currency_code"`
	BillerName         BillerName   `json:"biller_name"`
	Fields             BillerFields `json:"-"`
	DisableFraudChecks bool         `json:"disable_fraud_checks"`
}

// WithFraudBypass returns a copy of the mapping with the biller fraud-check
// bypass flag raised. Cross-sale attempts against Netbilling use this so the
// biller does not re-screen a card it already screened on the main item.
func (m BillerMapping) WithFraudBypass() BillerMapping {
	m.DisableFraudChecks = true
	return m
}
