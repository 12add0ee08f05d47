/**
 * @description
 * A purchase session is the unit of state that survives between the initial
 * orchestrate call and a later 3DS completion round trip. It snapshots the
 * items (with their attempt histories), the biller that took the purchase,
 * and the narrow site/fraud views. Merchant credentials are never stored;
 * the mapping is re-resolved from the config collaborator on resume.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseSession is the resumable purchase state.
type PurchaseSession struct {
	SessionID    uuid.UUID          `json:"session_id"`
	SiteID       string             `json:"site_id"`
	CurrencyCode string             `json:"currency_code"`
	BillerName   BillerName         `json:"biller_name"`
	User         UserInfo           `json:"user"`
	MainItem     *InitializedItem   `json:"main_item"`
	CrossSales   []*InitializedItem `json:"cross_sales"`
	Advice       FraudAdvice        `json:"advice"`
	Site         Site               `json:"site"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
