/**
 * @description
 * Contracts for the external collaborators the orchestration core calls
 * synchronously. Implementations live behind HTTP clients (pkg/riskclient)
 * or are stubbed in tests; the core only ever sees these interfaces.
 */

package app

import (
	"context"

	"github.com/velora/purchase-service/internal/domain"
)

// CascadeRankingRequest identifies the purchase context ranked by the
// external cascade service.
type CascadeRankingRequest struct {
	SessionID       string
	SiteID          string
	BusinessGroupID string
	Country         string
	PaymentType     domain.PaymentType
	PaymentMethod   string
	TrafficSource   string
}

// CascadeRankingService returns an ordered biller ranking for a purchase.
type CascadeRankingService interface {
	Rank(ctx context.Context, req CascadeRankingRequest) ([]domain.BillerName, error)
}

// BinRoutingService retrieves the routing-code candidates for an item. A nil
// collection means no routing applies.
type BinRoutingService interface {
	RetrieveRoutingCodes(ctx context.Context, item *domain.InitializedItem, site domain.Site, mapping domain.BillerMapping) (*domain.BinRoutingCollection, error)
}

// ConfigService resolves site configuration and merchant credential bundles.
type ConfigService interface {
	ResolveSite(ctx context.Context, siteID string) (domain.Site, error)
	ResolveBillerMapping(ctx context.Context, siteID string, biller domain.BillerName, currencyCode string) (domain.BillerMapping, error)
}

// FraudService supplies the fraud advice consulted by the attempt loop.
type FraudService interface {
	Advise(ctx context.Context, siteID string, user domain.UserInfo, payment domain.PaymentInfo) (domain.FraudAdvice, error)
}
