/**
 * @description
 * Cross-sale propagation: after a main item succeeds, every bundled
 * cross-sale item is attempted sequentially with the main item's payment
 * instrument and the single successful bin routing. Ordering matters:
 * billers observe cross-sales in submission order and the routing code is
 * shared, so items are never attempted concurrently. A cross-sale failure
 * never fails the main item; it simply leaves the cross-sale without a
 * successful transaction.
 */

package app

import (
	"context"
	"log"

	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/domain"
)

// CrossSaleAttemptPropagator reuses the main item's successful payment
// instrument for the bundled cross-sale items.
type CrossSaleAttemptPropagator struct {
	orchestrator *TransactionOrchestrator
}

// NewCrossSaleAttemptPropagator wires the propagator to the attempt loop.
func NewCrossSaleAttemptPropagator(orchestrator *TransactionOrchestrator) *CrossSaleAttemptPropagator {
	return &CrossSaleAttemptPropagator{orchestrator: orchestrator}
}

// Propagate attempts each cross-sale item in order with the given payment
// instrument and shared routing collection. Failures are logged, never
// re-thrown.
func (p *CrossSaleAttemptPropagator) Propagate(
	ctx context.Context,
	payment domain.PaymentInfo,
	crossSales []*domain.InitializedItem,
	routing *domain.BinRoutingCollection,
	b biller.Biller,
	mapping domain.BillerMapping,
	template biller.ChargeRequest,
	advice domain.FraudAdvice,
	site domain.Site,
) {
	for _, item := range crossSales {
		item.Payment = payment
		p.orchestrator.Attempt(ctx, item, routing, b, mapping, template, advice, site)
		last := item.LastTransaction()
		if last == nil || !last.Successful() {
			status := domain.StatusAborted
			if last != nil {
				status = last.Status
			}
			log.Printf("level=warn component=cross_sale item_id=%s biller=%s status=%s msg=\"cross-sale attempt unsuccessful\"", item.ItemID, b.Name(), status)
		}
	}
}
