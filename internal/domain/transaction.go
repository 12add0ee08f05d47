/**
 * @description
 * This file defines the canonical transaction entity produced by the biller
 * wire adapters and consumed by the purchase orchestration loop. Every charge
 * attempt against a biller, whatever its wire format, is normalized into a
 * `Transaction` so the orchestrator, the 3DS coordinator, and the cross-sale
 * propagator never see biller-specific shapes.
 *
 * @notes
 * - A Transaction's biller name is fixed at creation and never changes.
 * - Attempts that failed before reaching the biller have a nil TransactionID
 *   and status `aborted`.
 */

package domain

import "github.com/google/uuid"

// TransactionStatus is the terminal or intermediate state of one charge attempt.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusApproved TransactionStatus = "approved"
	StatusDeclined TransactionStatus = "declined"
	StatusAborted  TransactionStatus = "aborted"
)

// Decline error types reported by the response translator.
const (
	ErrorTypeHard = "hard"
	ErrorTypeSoft = "soft"
)

// NSFErrorCode is the biller response code that identifies a
// non-sufficient-funds decline.
const NSFErrorCode = "105"

// ErrorClassification is the human-facing decline taxonomy copied through
// from the biller response when present.
type ErrorClassification struct {
	GroupDecline      string `json:"group_decline,omitempty"`
	ErrorType         string `json:"error_type,omitempty"`
	Message           string `json:"message,omitempty"`
	RecommendedAction string `json:"recommended_action,omitempty"`
}

// ThreeDSInfo carries the 3-D Secure sub-state attached to a transaction
// when the biller requested (or resolved) an authentication step.
type ThreeDSInfo struct {
	ACSURL                string `json:"acs_url,omitempty"`
	PAReq                 string `json:"pareq,omitempty"`
	Version               string `json:"version,omitempty"`
	DeviceCollectionURL   string `json:"device_collection_url,omitempty"`
	DeviceCollectionJWT   string `json:"device_collection_jwt,omitempty"`
	StepUpURL             string `json:"step_up_url,omitempty"`
	StepUpJWT             string `json:"step_up_jwt,omitempty"`
	MerchantTransactionID string `json:"md,omitempty"`
	Frictionless          bool   `json:"frictionless"`
}

// Transaction is the canonical result of one charge/lookup/complete attempt.
type Transaction struct {
	ID                   uuid.UUID            `json:"id"`
	TransactionID        *string              `json:"transaction_id,omitempty"` // biller-side id; nil when the attempt never reached the biller
	Status               TransactionStatus    `json:"status"`
	BillerName           BillerName           `json:"biller_name"`
	NewCardUsed          bool                 `json:"new_card_used"`
	NSF                  bool                 `json:"nsf"`
	Code                 string               `json:"code,omitempty"` // raw biller error code
	Classification       *ErrorClassification `json:"classification,omitempty"`
	PaymentLinkURL       string               `json:"payment_link_url,omitempty"`
	ThreeDS              *ThreeDSInfo         `json:"three_ds,omitempty"`
	SuccessfulBinRouting *BinRouting          `json:"successful_bin_routing,omitempty"`
}

// NewAbortedTransaction builds the transaction recorded when a charge attempt
// failed before a biller response could be translated (adapter fault, open
// circuit, timeout). The attempt loop depends on these never being re-thrown.
func NewAbortedTransaction(biller BillerName, reason string) *Transaction {
	return &Transaction{
		ID:         uuid.New(),
		Status:     StatusAborted,
		BillerName: biller,
		Classification: &ErrorClassification{
			Message: reason,
		},
	}
}

// Approved reports whether the attempt was approved by the biller.
func (t *Transaction) Approved() bool { return t.Status == StatusApproved }

// Pending reports whether the attempt is awaiting a further step (3DS
// challenge, third-party redirect).
func (t *Transaction) Pending() bool { return t.Status == StatusPending }

// Successful reports whether the attempt is in a state that allows
// cross-sales to proceed.
func (t *Transaction) Successful() bool { return t.Approved() || t.Pending() }

// IsHardDecline reports whether the biller classified the decline as one
// that will not succeed on retry.
func (t *Transaction) IsHardDecline() bool {
	return t.Status == StatusDeclined && t.Classification != nil && t.Classification.ErrorType == ErrorTypeHard
}

// IsNSF reports whether the decline was a non-sufficient-funds decline.
func (t *Transaction) IsNSF() bool { return t.NSF }

// RetrieveTransactionResult is the full transaction record fetched back from
// a biller, including the card data needed to drive cross-sales after a 3DS
// completion.
type RetrieveTransactionResult struct {
	TransactionID   string            `json:"transaction_id"`
	Status          TransactionStatus `json:"status"`
	BillerName      BillerName        `json:"biller_name"`
	Amount          int64             `json:"amount"`
	CurrencyCode    string            `json:"currency_code"`
	CardHash        string            `json:"card_hash,omitempty"`
	CardToken       string            `json:"card_token,omitempty"`
	First6          string            `json:"first6,omitempty"`
	Last4           string            `json:"last4,omitempty"`
	ExpirationMonth int               `json:"expiration_month,omitempty"`
	ExpirationYear  int               `json:"expiration_year,omitempty"`
	MerchantAccount string            `json:"merchant_account,omitempty"`
	ThreeDS         *ThreeDSInfo      `json:"three_ds,omitempty"`
}

// AbortResult is the outcome of voiding a pending transaction at the biller.
type AbortResult struct {
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	BillerName    BillerName        `json:"biller_name"`
}
