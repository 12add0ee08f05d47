/**
 * @description
 * Event payloads published to the message broker when a purchase reaches a
 * terminal outcome. The orchestration core appends to an injected event sink,
 * never to ambient global state.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseProcessedEvent is published after the main item's attempt loop
// finishes, whatever the outcome.
type PurchaseProcessedEvent struct {
	SessionID     uuid.UUID         `json:"session_id"`
	ItemID        uuid.UUID         `json:"item_id"`
	SiteID        string            `json:"site_id"`
	BillerName    BillerName        `json:"biller_name"`
	Status        TransactionStatus `json:"status"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	IsCrossSale   bool              `json:"is_cross_sale"`
	NSF           bool              `json:"nsf"`
	Timestamp     time.Time         `json:"timestamp"`
}

// ThreeDSCompletedEvent is published when a 3DS sub-flow reaches a terminal
// state.
type ThreeDSCompletedEvent struct {
	SessionID    uuid.UUID         `json:"session_id"`
	ItemID       uuid.UUID         `json:"item_id"`
	BillerName   BillerName        `json:"biller_name"`
	Status       TransactionStatus `json:"status"`
	Frictionless bool              `json:"frictionless"`
	Timestamp    time.Time         `json:"timestamp"`
}
