/**
 * @description
 * This file defines the wire-adapter boundary between the orchestration core
 * and the biller backends. Every biller exposes the same canonical surface;
 * operations a biller does not implement return ErrBillerNotSupported instead
 * of panicking or silently no-oping.
 *
 * @dependencies
 * - internal/domain: canonical entities the adapters translate to and from.
 */

package biller

import (
	"context"
	"fmt"

	"github.com/velora/purchase-service/internal/domain"
)

// ChargeRequest is the canonical input for every charge operation. Adapters
// translate it into their biller-specific wire shape.
type ChargeRequest struct {
	Site         domain.Site
	CurrencyCode string
	User         domain.UserInfo
	Charge       domain.ChargeInformation
	Payment      domain.PaymentInfo
	Mapping      domain.BillerMapping
	Routing      *domain.BinRouting
	UseThreeD    bool
	ReturnURL    string
	NSFSupported bool
}

// ThreeDSLookupRequest initiates the 3DS authentication sub-flow.
type ThreeDSLookupRequest struct {
	Mapping             domain.BillerMapping
	TransactionID       string
	Payment             domain.PaymentInfo
	Charge              domain.ChargeInformation
	CurrencyCode        string
	ReturnURL           string
	DeviceFingerprintID string
}

// ThreeDSCompleteRequest finishes the full 3DS challenge flow with the
// biller-return data posted back by the ACS.
type ThreeDSCompleteRequest struct {
	Mapping       domain.BillerMapping
	TransactionID string
	PARes         string
	MD            string
}

// SimplifiedCompleteRequest finishes the simplified (return-URL based) 3DS
// flow with the opaque query string the biller appended to the return URL.
type SimplifiedCompleteRequest struct {
	Mapping       domain.BillerMapping
	TransactionID string
	ReturnQuery   string
}

// WireAdapter translates canonical requests into one biller's wire protocol
// and parses raw responses back into canonical transactions. Adapter-level
// faults are returned as errors; the attempt loop converts them into aborted
// transactions at its boundary.
type WireAdapter interface {
	ChargeNewCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error)
	ChargeExistingCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error)
	ChargeCheque(ctx context.Context, req ChargeRequest) (*domain.Transaction, error)
	ChargeThirdParty(ctx context.Context, req ChargeRequest) (*domain.Transaction, error)
	LookupThreeDS(ctx context.Context, req ThreeDSLookupRequest) (*domain.Transaction, error)
	CompleteThreeDS(ctx context.Context, req ThreeDSCompleteRequest) (*domain.Transaction, error)
	CompleteSimplifiedThreeDS(ctx context.Context, req SimplifiedCompleteRequest) (*domain.Transaction, error)
	RetrieveTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.RetrieveTransactionResult, error)
	AbortTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.AbortResult, error)
}

// InteractionRecorder is implemented by billers that confirm transactions
// asynchronously through server-to-server callbacks (Epoch, Qysso).
type InteractionRecorder interface {
	AddBillerInteraction(ctx context.Context, mapping domain.BillerMapping, payload []byte) (*domain.Transaction, error)
}

// Rebiller is implemented by billers that accept server-initiated rebills
// against a prior transaction (Qysso).
type Rebiller interface {
	RebillTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string, charge domain.ChargeInformation) (*domain.Transaction, error)
}

func unsupported(biller domain.BillerName, op string) error {
	return fmt.Errorf("%w: %s does not implement %s", domain.ErrBillerNotSupported, biller, op)
}
