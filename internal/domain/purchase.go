/**
 * @description
 * This file defines the purchase-side aggregates consumed by the attempt
 * loop: the initialized purchase item (main or cross-sale), the payment
 * instrument variants, charge information, and the narrow views of the site
 * and fraud collaborators the orchestration core is allowed to consult.
 *
 * @notes
 * - Amounts are int64 in the smallest currency unit to avoid floating-point
 *   inaccuracies with financial data.
 * - An InitializedItem only ever accumulates transactions; attempts are
 *   appended, never overwritten.
 */

package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PaymentType distinguishes the payment instrument variants.
type PaymentType string

const (
	PaymentTypeNewCard      PaymentType = "new_card"
	PaymentTypeExistingCard PaymentType = "existing_card"
	PaymentTypeCheque       PaymentType = "cheque"
	PaymentTypeOther        PaymentType = "other"
)

// PaymentInfo is the closed set of payment instrument variants. The attempt
// loop dispatches on the concrete type.
type PaymentInfo interface {
	Type() PaymentType
}

// NewCardInfo is a raw card collected on this purchase.
type NewCardInfo struct {
	Number          string `json:"number"`
	CVV             string `json:"cvv"`
	ExpirationMonth int    `json:"expiration_month"`
	ExpirationYear  int    `json:"expiration_year"`
}

func (NewCardInfo) Type() PaymentType { return PaymentTypeNewCard }

// ExistingCardInfo is a previously tokenized card.
type ExistingCardInfo struct {
	CardHash  string `json:"card_hash"`
	CardToken string `json:"card_token,omitempty"`
	Last4     string `json:"last4,omitempty"`
}

func (ExistingCardInfo) Type() PaymentType { return PaymentTypeExistingCard }

// ChequeInfo is an ACH/cheque payment. Only Rocketgate accepts it.
type ChequeInfo struct {
	RoutingNumber       string `json:"routing_number"`
	AccountNumber       string `json:"account_number"`
	SavingsAccount      bool   `json:"savings_account"`
	SocialSecurityLast4 string `json:"ssn_last4,omitempty"`
	Label               string `json:"label,omitempty"`
}

func (ChequeInfo) Type() PaymentType { return PaymentTypeCheque }

// OtherPaymentInfo covers third-party payment types resolved biller-side
// (e.g. Epoch/Qysso hosted payment pages).
type OtherPaymentInfo struct {
	PaymentType   string `json:"payment_type"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

func (OtherPaymentInfo) Type() PaymentType { return PaymentTypeOther }

// DecodePaymentInfo reconstructs the concrete payment variant from its type
// tag and raw JSON. Transport and persistence share this because PaymentInfo
// cannot round-trip through encoding/json on its own.
func DecodePaymentInfo(paymentType PaymentType, raw json.RawMessage) (PaymentInfo, error) {
	switch paymentType {
	case PaymentTypeNewCard:
		var p NewCardInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode new-card payment: %w", err)
		}
		return p, nil
	case PaymentTypeExistingCard:
		var p ExistingCardInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode existing-card payment: %w", err)
		}
		return p, nil
	case PaymentTypeCheque:
		var p ChequeInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode cheque payment: %w", err)
		}
		return p, nil
	case PaymentTypeOther:
		var p OtherPaymentInfo
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode payment: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown payment type %q", ErrMalformedPayload, paymentType)
}

// ChargeInformation is the amount schedule for one item.
type ChargeInformation struct {
	InitialAmount int64  `json:"initial_amount"`
	InitialDays   int    `json:"initial_days"`
	RebillAmount  int64  `json:"rebill_amount,omitempty"`
	RebillDays    int    `json:"rebill_days,omitempty"`
	IsTrial       bool   `json:"is_trial"`
	CurrencyCode  string `json:"currency_code"`
}

// UserInfo is the member/customer data forwarded to the billers.
type UserInfo struct {
	MemberID  string `json:"member_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// InitializedItem is one purchase line (main or cross-sale) with its ordered
// attempt history.
type InitializedItem struct {
	ItemID       uuid.UUID         `json:"item_id"`
	SiteID       string            `json:"site_id"`
	Charge       ChargeInformation `json:"charge"`
	Payment      PaymentInfo       `json:"-"`
	Transactions []*Transaction    `json:"transactions"`
	IsCrossSale  bool              `json:"is_cross_sale"`
	NSFSupported bool              `json:"nsf_supported"`
}

// AddTransaction appends an attempt to the item's history.
func (i *InitializedItem) AddTransaction(tx *Transaction) {
	i.Transactions = append(i.Transactions, tx)
}

// LastTransaction returns the most recent attempt, or nil when no attempt
// was made.
func (i *InitializedItem) LastTransaction() *Transaction {
	if len(i.Transactions) == 0 {
		return nil
	}
	return i.Transactions[len(i.Transactions)-1]
}

// WasSuccessful reports whether the item's last attempt is approved or
// pending. Cross-sales are attempted only when the main item reports true.
func (i *InitializedItem) WasSuccessful() bool {
	last := i.LastTransaction()
	return last != nil && last.Successful()
}

// FraudAdvice is the narrow fraud-collaborator view consulted by the
// orchestration core.
type FraudAdvice struct {
	ForceThreeD        bool `json:"force_three_d"`
	BlacklistOnDecline bool `json:"blacklist_on_decline"`
}

// IsForceThreeD reports whether 3DS authentication is mandatory for this
// purchase.
func (f FraudAdvice) IsForceThreeD() bool { return f.ForceThreeD }

// Site is the narrow site-configuration view consulted by the orchestration
// core.
type Site struct {
	SiteID          string `json:"site_id"`
	BusinessGroupID string `json:"business_group_id,omitempty"`
	Attempts        int    `json:"attempts"` // max bin-routing attempts for the main item
	NSFSupported    bool   `json:"nsf_supported"`
	ReturnURL       string `json:"return_url,omitempty"`
}

// IsNSFSupported reports whether the site allows NSF retry handling.
func (s Site) IsNSFSupported() bool { return s.NSFSupported }
