/**
 * @description
 * The 3-D Secure coordinator drives the authentication sub-flow for a main
 * item:
 *
 *   initiated -> lookup (frictionless => approved|declined,
 *                        challenge    => pending-challenge)
 *             -> complete | simplifiedComplete -> approved|declined|aborted
 *
 * A frictionless lookup result short-circuits straight to cross-sale
 * propagation with the authorized card. Completion re-fetches the full
 * transaction record to extract the card data that drives cross-sales, and a
 * Rocketgate merchant-account value on that record becomes the main
 * transaction's successful bin routing. Cross-sale failures inside the
 * completion paths are logged, never re-thrown; the main item's 3DS outcome
 * is authoritative.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: device-collection JWT minting and
 *   step-up return JWT verification for the Cardinal-style 3DS2 flow.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/domain"
)

// ThreeDSContext bundles the purchase state a 3DS step operates on.
type ThreeDSContext struct {
	Item       *domain.InitializedItem
	CrossSales []*domain.InitializedItem
	Biller     biller.Biller
	Mapping    domain.BillerMapping
	Template   biller.ChargeRequest
	Advice     domain.FraudAdvice
	Site       domain.Site
}

// ThreeDSecureCoordinator manages the lookup/complete sub-flow.
type ThreeDSecureCoordinator struct {
	gateway    *CircuitBreakerGateway
	propagator *CrossSaleAttemptPropagator
	jwtSecret  string
}

// NewThreeDSecureCoordinator wires the coordinator.
func NewThreeDSecureCoordinator(gateway *CircuitBreakerGateway, propagator *CrossSaleAttemptPropagator, jwtSecret string) *ThreeDSecureCoordinator {
	return &ThreeDSecureCoordinator{gateway: gateway, propagator: propagator, jwtSecret: jwtSecret}
}

func (c *ThreeDSecureCoordinator) secretFor(mapping domain.BillerMapping) string {
	if rg, ok := mapping.Fields.(domain.RocketgateFields); ok && rg.SharedSecret != "" {
		return rg.SharedSecret
	}
	return c.jwtSecret
}

// Lookup initiates the 3DS flow for the item's last pending transaction. A
// frictionless (approved) result proceeds straight to cross-sale
// propagation; a challenge comes back pending with the ACS or step-up data
// the member must be sent through.
func (c *ThreeDSecureCoordinator) Lookup(ctx context.Context, tc ThreeDSContext, deviceFingerprintID string) (*domain.Transaction, error) {
	last := tc.Item.LastTransaction()
	if last == nil || last.TransactionID == nil {
		return nil, fmt.Errorf("%w: item has no biller transaction to authenticate", domain.ErrTransactionDataNotFound)
	}

	req := biller.ThreeDSLookupRequest{
		Mapping:             tc.Mapping,
		TransactionID:       *last.TransactionID,
		Payment:             tc.Item.Payment,
		Charge:              tc.Item.Charge,
		CurrencyCode:        tc.Template.CurrencyCode,
		ReturnURL:           tc.Site.ReturnURL,
		DeviceFingerprintID: deviceFingerprintID,
	}
	adapter := tc.Biller.Adapter()
	tx, err := ExecuteCommand(ctx, c.gateway, Command(tc.Biller.Name(), "lookupThreeDS"), func(cc context.Context) (*domain.Transaction, error) {
		return adapter.LookupThreeDS(cc, req)
	})
	if err != nil {
		log.Printf("level=warn component=threeds item_id=%s biller=%s msg=\"lookup aborted\" err=%v", tc.Item.ItemID, tc.Biller.Name(), err)
		tx = domain.NewAbortedTransaction(tc.Biller.Name(), err.Error())
		tc.Item.AddTransaction(tx)
		return tx, nil
	}

	switch {
	case tx.Approved():
		// Frictionless: the issuer authenticated without a challenge.
		if tx.ThreeDS == nil {
			tx.ThreeDS = &domain.ThreeDSInfo{}
		}
		tx.ThreeDS.Frictionless = true
		tc.Item.AddTransaction(tx)
		c.propagateCrossSales(ctx, tc, tc.Item.Payment, tx)
	case tx.Pending():
		if tx.ThreeDS != nil && tx.ThreeDS.DeviceCollectionURL != "" && tx.ThreeDS.DeviceCollectionJWT == "" {
			signed, jwtErr := c.mintDeviceCollectionJWT(tc.Mapping, *last.TransactionID)
			if jwtErr != nil {
				log.Printf("level=warn component=threeds item_id=%s msg=\"device collection jwt mint failed\" err=%v", tc.Item.ItemID, jwtErr)
			} else {
				tx.ThreeDS.DeviceCollectionJWT = signed
			}
		}
		tc.Item.AddTransaction(tx)
	default:
		tc.Item.AddTransaction(tx)
	}
	return tx, nil
}

// Complete finishes the full challenge flow with the ACS return data
// (PARes/MD). Completion faults propagate to the caller; an aborted result
// surfaces as ErrUnableToCompleteThreeD.
func (c *ThreeDSecureCoordinator) Complete(ctx context.Context, tc ThreeDSContext, transactionID, pares, md string) (*domain.Transaction, error) {
	req := biller.ThreeDSCompleteRequest{
		Mapping:       tc.Mapping,
		TransactionID: transactionID,
		PARes:         pares,
		MD:            md,
	}
	adapter := tc.Biller.Adapter()
	tx, err := ExecuteCommand(ctx, c.gateway, Command(tc.Biller.Name(), "completeThreeDS"), func(cc context.Context) (*domain.Transaction, error) {
		return adapter.CompleteThreeDS(cc, req)
	})
	if err != nil {
		return nil, err
	}
	return c.finishCompletion(ctx, tc, transactionID, tx)
}

// CompleteSimplified finishes the return-URL based flow with the opaque
// query string the biller appended on redirect. When the return carries a
// step-up JWT it is verified against the merchant secret before the biller
// is asked to settle.
func (c *ThreeDSecureCoordinator) CompleteSimplified(ctx context.Context, tc ThreeDSContext, transactionID, returnQuery string) (*domain.Transaction, error) {
	if values, parseErr := url.ParseQuery(returnQuery); parseErr == nil {
		if token := values.Get("jwt"); token != "" {
			if err := c.verifyStepUpJWT(tc.Mapping, token); err != nil {
				return nil, fmt.Errorf("%w: step-up jwt rejected: %v", domain.ErrUnableToCompleteThreeD, err)
			}
		}
	}

	req := biller.SimplifiedCompleteRequest{
		Mapping:       tc.Mapping,
		TransactionID: transactionID,
		ReturnQuery:   returnQuery,
	}
	adapter := tc.Biller.Adapter()
	tx, err := ExecuteCommand(ctx, c.gateway, Command(tc.Biller.Name(), "completeSimplifiedThreeDS"), func(cc context.Context) (*domain.Transaction, error) {
		return adapter.CompleteSimplifiedThreeDS(cc, req)
	})
	if err != nil {
		return nil, err
	}
	return c.finishCompletion(ctx, tc, transactionID, tx)
}

// finishCompletion applies the shared tail of both completion paths: reject
// aborted results, re-fetch the full transaction record, attach the
// Rocketgate merchant account as the successful bin routing, and drive
// cross-sales with the authenticated card.
func (c *ThreeDSecureCoordinator) finishCompletion(ctx context.Context, tc ThreeDSContext, transactionID string, tx *domain.Transaction) (*domain.Transaction, error) {
	if tx.Status == domain.StatusAborted {
		tc.Item.AddTransaction(tx)
		return nil, fmt.Errorf("%w: biller reported aborted completion for %s", domain.ErrUnableToCompleteThreeD, transactionID)
	}
	tc.Item.AddTransaction(tx)
	if !tx.Successful() {
		return tx, nil
	}

	adapter := tc.Biller.Adapter()
	full, err := ExecuteCommand(ctx, c.gateway, Command(tc.Biller.Name(), "retrieveTransaction"), func(cc context.Context) (*domain.RetrieveTransactionResult, error) {
		return adapter.RetrieveTransaction(cc, tc.Mapping, transactionID)
	})
	if err != nil {
		return nil, err
	}

	if tc.Biller.Name() == domain.BillerRocketgate && full.MerchantAccount != "" {
		tx.SuccessfulBinRouting = &domain.BinRouting{Attempt: 1, RoutingCode: full.MerchantAccount}
	}

	payment := domain.ExistingCardInfo{
		CardHash:  full.CardHash,
		CardToken: full.CardToken,
		Last4:     full.Last4,
	}
	c.propagateCrossSales(ctx, tc, payment, tx)
	return tx, nil
}

func (c *ThreeDSecureCoordinator) propagateCrossSales(ctx context.Context, tc ThreeDSContext, payment domain.PaymentInfo, mainTx *domain.Transaction) {
	if len(tc.CrossSales) == 0 || c.propagator == nil {
		return
	}
	routingCode := ""
	if mainTx.SuccessfulBinRouting != nil {
		routingCode = mainTx.SuccessfulBinRouting.RoutingCode
	}
	mapping := tc.Mapping
	if tc.Biller.Name() == domain.BillerNetbilling {
		mapping = mapping.WithFraudBypass()
	}
	c.propagator.Propagate(ctx, payment, tc.CrossSales, domain.SingleEntryCollection(routingCode), tc.Biller, mapping, tc.Template, tc.Advice, tc.Site)
}

// mintDeviceCollectionJWT signs the short-lived JWT the client presents to
// the card network's device-collection endpoint.
func (c *ThreeDSecureCoordinator) mintDeviceCollectionJWT(mapping domain.BillerMapping, reference string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":         uuid.NewString(),
		"iat":         now.Unix(),
		"exp":         now.Add(2 * time.Hour).Unix(),
		"ReferenceId": reference,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.secretFor(mapping)))
}

// verifyStepUpJWT validates the JWT the ACS return posted back.
func (c *ThreeDSecureCoordinator) verifyStepUpJWT(mapping domain.BillerMapping, token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(c.secretFor(mapping)), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid step-up token")
	}
	return nil
}
