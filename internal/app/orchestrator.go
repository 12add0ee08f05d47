/**
 * @description
 * The attempt loop. Given an item, a biller, bin-routing candidates, and the
 * site's max-attempts policy, the orchestrator drives zero-or-more
 * circuit-breaker-wrapped charge attempts, deciding when to stop and which
 * payment-method path to take. Adapter-level faults never escape: they are
 * converted into aborted transactions at the wire boundary so the loop
 * terminates deterministically.
 *
 * Two long-standing routing shortcuts are load-bearing and preserved
 * bit-for-bit: an empty candidate collection performs exactly one attempt
 * with no routing code regardless of the site's attempt budget, and a
 * single-candidate collection stops after its first attempt even on decline.
 */

package app

import (
	"context"
	"log"

	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/domain"
)

// TransactionOrchestrator drives the charge attempt loop for one item.
type TransactionOrchestrator struct {
	gateway    *CircuitBreakerGateway
	propagator *CrossSaleAttemptPropagator
}

// NewTransactionOrchestrator wires the orchestrator to the breaker gateway.
// The cross-sale propagator is attached separately to break the construction
// cycle between the two.
func NewTransactionOrchestrator(gateway *CircuitBreakerGateway) *TransactionOrchestrator {
	return &TransactionOrchestrator{gateway: gateway}
}

// SetPropagator attaches the cross-sale propagator used after a successful
// main item.
func (o *TransactionOrchestrator) SetPropagator(p *CrossSaleAttemptPropagator) {
	o.propagator = p
}

// shouldStopOnHardDecline is the blacklist-on-decline stop policy: the loop
// halts early only when the decline is hard and the feature flag is raised.
func shouldStopOnHardDecline(tx *domain.Transaction, blacklistOnDecline bool) bool {
	return blacklistOnDecline && tx.IsHardDecline()
}

// Attempt runs the bounded attempt loop for one item and returns the ordered
// attempts, each of which is also appended to the item's history.
func (o *TransactionOrchestrator) Attempt(
	ctx context.Context,
	item *domain.InitializedItem,
	routingCodes *domain.BinRoutingCollection,
	b biller.Biller,
	mapping domain.BillerMapping,
	template biller.ChargeRequest,
	advice domain.FraudAdvice,
	site domain.Site,
) []*domain.Transaction {
	useThreeD := b.SupportsThreeD() && advice.IsForceThreeD() && !item.IsCrossSale

	if routingCodes.IsEmpty() {
		// Exactly one attempt with no routing code, whatever site.Attempts says.
		tx := o.attemptOnce(ctx, item, b, mapping, template, nil, useThreeD, site)
		return []*domain.Transaction{tx}
	}

	var attempts []*domain.Transaction
	single, hasSingle := routingCodes.Single()
	for attempt := 1; attempt <= site.Attempts; attempt++ {
		var routing *domain.BinRouting
		stopAfter := false
		if hasSingle {
			// One real try is meaningful; reuse the candidate and stop after it.
			r := single
			routing = &r
			stopAfter = true
		} else if r, ok := routingCodes.Get(item.ItemID.String(), attempt); ok {
			routing = &r
		} else {
			// No candidate for this attempt index: one try with no routing
			// code, then stop.
			stopAfter = true
		}

		tx := o.attemptOnce(ctx, item, b, mapping, template, routing, useThreeD, site)
		attempts = append(attempts, tx)

		if tx.Successful() || stopAfter || shouldStopOnHardDecline(tx, advice.BlacklistOnDecline) {
			break
		}
	}
	return attempts
}

// AttemptWithCrossSales runs the main item's attempt loop and, when the main
// item lands approved or pending, propagates the successful payment method
// and bin routing to the cross-sale items.
func (o *TransactionOrchestrator) AttemptWithCrossSales(
	ctx context.Context,
	item *domain.InitializedItem,
	crossSales []*domain.InitializedItem,
	routingCodes *domain.BinRoutingCollection,
	b biller.Biller,
	mapping domain.BillerMapping,
	template biller.ChargeRequest,
	advice domain.FraudAdvice,
	site domain.Site,
) []*domain.Transaction {
	attempts := o.Attempt(ctx, item, routingCodes, b, mapping, template, advice, site)
	if !item.WasSuccessful() || len(crossSales) == 0 || o.propagator == nil {
		return attempts
	}

	last := item.LastTransaction()
	routingCode := ""
	if last.SuccessfulBinRouting != nil {
		routingCode = last.SuccessfulBinRouting.RoutingCode
	}
	crossSaleRouting := domain.SingleEntryCollection(routingCode)

	crossSaleMapping := mapping
	if b.Name() == domain.BillerNetbilling {
		crossSaleMapping = mapping.WithFraudBypass()
	}

	o.propagator.Propagate(ctx, item.Payment, crossSales, crossSaleRouting, b, crossSaleMapping, template, advice, site)
	return attempts
}

// attemptOnce dispatches one charge to the payment-method-specific path and
// records the resulting transaction on the item. Errors become aborted
// transactions here and are never re-thrown.
func (o *TransactionOrchestrator) attemptOnce(
	ctx context.Context,
	item *domain.InitializedItem,
	b biller.Biller,
	mapping domain.BillerMapping,
	template biller.ChargeRequest,
	routing *domain.BinRouting,
	useThreeD bool,
	site domain.Site,
) *domain.Transaction {
	req := template
	req.Mapping = mapping
	req.Payment = item.Payment
	req.Charge = item.Charge
	req.Routing = routing
	req.UseThreeD = useThreeD
	req.NSFSupported = site.IsNSFSupported() && item.NSFSupported
	adapter := b.Adapter()

	var tx *domain.Transaction
	var err error
	switch item.Payment.(type) {
	case domain.ExistingCardInfo:
		// The simplified-3DS flag gates authentication on stored cards.
		if !domain.Simplified3DSEnabled(mapping.Fields) {
			req.UseThreeD = false
		}
		tx, err = ExecuteCommand(ctx, o.gateway, Command(b.Name(), "chargeExistingCard"), func(c context.Context) (*domain.Transaction, error) {
			return adapter.ChargeExistingCard(c, req)
		})
	case domain.ChequeInfo:
		// Cheque payments ignore bin routing and 3DS entirely.
		req.Routing = nil
		req.UseThreeD = false
		tx, err = ExecuteCommand(ctx, o.gateway, Command(b.Name(), "chargeCheque"), func(c context.Context) (*domain.Transaction, error) {
			return adapter.ChargeCheque(c, req)
		})
	case domain.NewCardInfo:
		tx, err = ExecuteCommand(ctx, o.gateway, Command(b.Name(), "chargeNewCard"), func(c context.Context) (*domain.Transaction, error) {
			return adapter.ChargeNewCard(c, req)
		})
		if tx != nil {
			tx.NewCardUsed = true
		}
	default:
		tx, err = ExecuteCommand(ctx, o.gateway, Command(b.Name(), "chargeThirdParty"), func(c context.Context) (*domain.Transaction, error) {
			return adapter.ChargeThirdParty(c, req)
		})
	}

	if err != nil {
		log.Printf("level=warn component=orchestrator item_id=%s biller=%s msg=\"charge attempt aborted\" err=%v", item.ItemID, b.Name(), err)
		tx = domain.NewAbortedTransaction(b.Name(), err.Error())
	}
	if tx.Successful() && routing != nil && tx.SuccessfulBinRouting == nil {
		r := *routing
		tx.SuccessfulBinRouting = &r
	}
	item.AddTransaction(tx)
	return tx
}
