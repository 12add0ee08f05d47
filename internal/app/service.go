/**
 * @description
 * The application service is the single entry point the transport layer
 * calls. It assembles the purchase session, resolves the cascade, runs the
 * attempt loop biller by biller until the main item lands, persists the
 * resumable session, and publishes terminal events. The 3DS operations load
 * a persisted session, re-resolve the merchant credentials (which are never
 * stored), and hand off to the coordinator.
 *
 * @dependencies
 * - internal/biller: biller catalog and canonical adapter surface.
 * - internal/store: session persistence.
 * - pkg/rabbitmq: event sink for terminal purchase outcomes.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/domain"
	"github.com/velora/purchase-service/internal/store"
	"github.com/velora/purchase-service/pkg/rabbitmq"
)

// CrossSaleRequest is one cross-sale offer attached to a purchase.
type CrossSaleRequest struct {
	SiteID string                   `json:"site_id"`
	Charge domain.ChargeInformation `json:"charge"`
}

// PurchaseRequest is the canonical input for a new purchase.
type PurchaseRequest struct {
	SiteID            string                   `json:"site_id"`
	CurrencyCode      string                   `json:"currency_code"`
	User              domain.UserInfo          `json:"user"`
	Payment           domain.PaymentInfo       `json:"-"`
	Charge            domain.ChargeInformation `json:"charge"`
	CrossSales        []CrossSaleRequest       `json:"cross_sales,omitempty"`
	ForceCascade      string                   `json:"force_cascade,omitempty"`
	InitialJoinBiller string                   `json:"initial_join_biller,omitempty"`
	TrafficSource     string                   `json:"traffic_source,omitempty"`
	PaymentMethod     string                   `json:"payment_method,omitempty"`
}

// Service exposes the purchase and 3DS operations to the transport layer.
type Service struct {
	catalog      *biller.Catalog
	resolver     *BillerCascadeResolver
	orchestrator *TransactionOrchestrator
	coordinator  *ThreeDSecureCoordinator
	gateway      *CircuitBreakerGateway
	configs      ConfigService
	fraud        FraudService
	routing      BinRoutingService
	sessions     store.Repository
	events       rabbitmq.Publisher

	// blacklistForced raises the blacklist-on-decline stop policy for every
	// purchase, regardless of the per-purchase fraud advice.
	blacklistForced bool
}

// NewService wires the application service.
func NewService(
	catalog *biller.Catalog,
	resolver *BillerCascadeResolver,
	orchestrator *TransactionOrchestrator,
	coordinator *ThreeDSecureCoordinator,
	gateway *CircuitBreakerGateway,
	configs ConfigService,
	fraud FraudService,
	routing BinRoutingService,
	sessions store.Repository,
	events rabbitmq.Publisher,
) *Service {
	return &Service{
		catalog:      catalog,
		resolver:     resolver,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		gateway:      gateway,
		configs:      configs,
		fraud:        fraud,
		routing:      routing,
		sessions:     sessions,
		events:       events,
	}
}

// SetForcedBlacklistOnDecline forces the hard-decline stop policy on every
// purchase. Sites that mandate member blacklisting set this at bootstrap via
// BLACKLIST_ON_DECLINE_FORCED.
func (s *Service) SetForcedBlacklistOnDecline(forced bool) {
	s.blacklistForced = forced
}

// Purchase runs a full purchase: cascade resolution, the main item's attempt
// loop per candidate biller, cross-sale propagation, session persistence,
// and event publication. The returned session carries every attempt made.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*domain.PurchaseSession, error) {
	if req.Payment == nil {
		return nil, fmt.Errorf("%w: missing payment information", domain.ErrMalformedPayload)
	}

	site, err := s.configs.ResolveSite(ctx, req.SiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site %s: %w", req.SiteID, err)
	}

	advice, err := s.fraud.Advise(ctx, req.SiteID, req.User, req.Payment)
	if err != nil {
		// Fraud advice is advisory; a collaborator fault falls back to the
		// permissive default rather than blocking the purchase.
		log.Printf("level=warn component=service site_id=%s msg=\"fraud advice unavailable, using defaults\" err=%v", req.SiteID, err)
		advice = domain.FraudAdvice{}
	}
	if s.blacklistForced {
		advice.BlacklistOnDecline = true
	}

	sessionID := uuid.New()
	mainItem := &domain.InitializedItem{
		ItemID:       uuid.New(),
		SiteID:       req.SiteID,
		Charge:       req.Charge,
		Payment:      req.Payment,
		NSFSupported: site.IsNSFSupported(),
	}
	crossSales := make([]*domain.InitializedItem, 0, len(req.CrossSales))
	for _, cs := range req.CrossSales {
		crossSales = append(crossSales, &domain.InitializedItem{
			ItemID:       uuid.New(),
			SiteID:       cs.SiteID,
			Charge:       cs.Charge,
			IsCrossSale:  true,
			NSFSupported: site.IsNSFSupported(),
		})
	}

	billers, err := s.resolver.Resolve(ctx, ResolveOptions{
		ForceCascade:      req.ForceCascade,
		InitialJoinBiller: req.InitialJoinBiller,
		Ranking: CascadeRankingRequest{
			SessionID:       sessionID.String(),
			SiteID:          req.SiteID,
			BusinessGroupID: site.BusinessGroupID,
			Country:         req.User.Country,
			PaymentType:     req.Payment.Type(),
			PaymentMethod:   req.PaymentMethod,
			TrafficSource:   req.TrafficSource,
		},
	})
	if err != nil {
		return nil, err
	}

	session := &domain.PurchaseSession{
		SessionID:    sessionID,
		SiteID:       req.SiteID,
		CurrencyCode: req.CurrencyCode,
		User:         req.User,
		MainItem:     mainItem,
		CrossSales:   crossSales,
		Advice:       advice,
		Site:         site,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	for _, b := range billers {
		mapping, mapErr := s.configs.ResolveBillerMapping(ctx, req.SiteID, b.Name(), req.CurrencyCode)
		if mapErr != nil {
			log.Printf("level=warn component=service session_id=%s biller=%s msg=\"no biller mapping, skipping cascade slot\" err=%v", sessionID, b.Name(), mapErr)
			continue
		}

		routingCodes, routeErr := s.routing.RetrieveRoutingCodes(ctx, mainItem, site, mapping)
		if routeErr != nil {
			log.Printf("level=warn component=service session_id=%s biller=%s msg=\"bin routing unavailable, attempting without routing\" err=%v", sessionID, b.Name(), routeErr)
			routingCodes = domain.NewBinRoutingCollection()
		}

		template := biller.ChargeRequest{
			Site:         site,
			CurrencyCode: req.CurrencyCode,
			User:         req.User,
			Mapping:      mapping,
			ReturnURL:    site.ReturnURL,
		}

		session.BillerName = b.Name()
		s.orchestrator.AttemptWithCrossSales(ctx, mainItem, crossSales, routingCodes, b, mapping, template, advice, site)
		if mainItem.WasSuccessful() {
			break
		}
		// Hard declines are final for this member; do not cascade further.
		if last := mainItem.LastTransaction(); last != nil && shouldStopOnHardDecline(last, advice.BlacklistOnDecline) {
			break
		}
	}

	session.UpdatedAt = time.Now().UTC()
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist purchase session %s: %w", sessionID, err)
	}

	s.publishPurchaseOutcome(ctx, session, mainItem)
	for _, cs := range crossSales {
		if len(cs.Transactions) > 0 {
			s.publishPurchaseOutcome(ctx, session, cs)
		}
	}
	return session, nil
}

// LookupThreeDS resumes a persisted session and initiates the 3DS
// authentication sub-flow on its main item.
func (s *Service) LookupThreeDS(ctx context.Context, sessionID uuid.UUID, deviceFingerprintID string) (*domain.PurchaseSession, *domain.Transaction, error) {
	session, tc, err := s.resumeSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.coordinator.Lookup(ctx, tc, deviceFingerprintID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.finishThreeDSStep(ctx, session, tx); err != nil {
		return nil, nil, err
	}
	return session, tx, nil
}

// CompleteThreeDS finishes the full challenge flow for a persisted session.
func (s *Service) CompleteThreeDS(ctx context.Context, sessionID uuid.UUID, transactionID, pares, md string) (*domain.PurchaseSession, *domain.Transaction, error) {
	session, tc, err := s.resumeSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.coordinator.Complete(ctx, tc, transactionID, pares, md)
	if err != nil {
		// The aborted-completion path still recorded an attempt; persist it.
		if saveErr := s.persistSession(ctx, session); saveErr != nil {
			log.Printf("level=error component=service session_id=%s msg=\"failed to persist session after completion fault\" err=%v", sessionID, saveErr)
		}
		return nil, nil, err
	}
	if err := s.finishThreeDSStep(ctx, session, tx); err != nil {
		return nil, nil, err
	}
	return session, tx, nil
}

// CompleteSimplifiedThreeDS finishes the return-URL based flow for a
// persisted session.
func (s *Service) CompleteSimplifiedThreeDS(ctx context.Context, sessionID uuid.UUID, transactionID, returnQuery string) (*domain.PurchaseSession, *domain.Transaction, error) {
	session, tc, err := s.resumeSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.coordinator.CompleteSimplified(ctx, tc, transactionID, returnQuery)
	if err != nil {
		if saveErr := s.persistSession(ctx, session); saveErr != nil {
			log.Printf("level=error component=service session_id=%s msg=\"failed to persist session after completion fault\" err=%v", sessionID, saveErr)
		}
		return nil, nil, err
	}
	if err := s.finishThreeDSStep(ctx, session, tx); err != nil {
		return nil, nil, err
	}
	return session, tx, nil
}

// RetrieveTransaction fetches the full transaction record from a biller.
func (s *Service) RetrieveTransaction(ctx context.Context, siteID string, billerName domain.BillerName, currencyCode, transactionID string) (*domain.RetrieveTransactionResult, error) {
	b, mapping, err := s.billerAndMapping(ctx, siteID, billerName, currencyCode)
	if err != nil {
		return nil, err
	}
	adapter := b.Adapter()
	return ExecuteCommand(ctx, s.gateway, Command(b.Name(), "retrieveTransaction"), func(c context.Context) (*domain.RetrieveTransactionResult, error) {
		return adapter.RetrieveTransaction(c, mapping, transactionID)
	})
}

// AbortTransaction voids a pending transaction at the biller.
func (s *Service) AbortTransaction(ctx context.Context, siteID string, billerName domain.BillerName, currencyCode, transactionID string) (*domain.AbortResult, error) {
	b, mapping, err := s.billerAndMapping(ctx, siteID, billerName, currencyCode)
	if err != nil {
		return nil, err
	}
	adapter := b.Adapter()
	return ExecuteCommand(ctx, s.gateway, Command(b.Name(), "abortTransaction"), func(c context.Context) (*domain.AbortResult, error) {
		return adapter.AbortTransaction(c, mapping, transactionID)
	})
}

// AddBillerInteraction records a server-to-server biller callback (Epoch
// invoice postbacks, Qysso notifications). Malformed or already-processed
// payloads surface as their business outcomes.
func (s *Service) AddBillerInteraction(ctx context.Context, siteID string, billerName domain.BillerName, currencyCode string, payload []byte) (*domain.Transaction, error) {
	b, mapping, err := s.billerAndMapping(ctx, siteID, billerName, currencyCode)
	if err != nil {
		return nil, err
	}
	recorder, ok := b.Adapter().(biller.InteractionRecorder)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept biller interactions", domain.ErrBillerNotSupported, billerName)
	}
	return ExecuteCommand(ctx, s.gateway, Command(b.Name(), "addBillerInteraction"), func(c context.Context) (*domain.Transaction, error) {
		return recorder.AddBillerInteraction(c, mapping, payload)
	})
}

// RebillTransaction charges a rebill against a prior transaction on billers
// that support server-initiated rebills.
func (s *Service) RebillTransaction(ctx context.Context, siteID string, billerName domain.BillerName, currencyCode, transactionID string, charge domain.ChargeInformation) (*domain.Transaction, error) {
	b, mapping, err := s.billerAndMapping(ctx, siteID, billerName, currencyCode)
	if err != nil {
		return nil, err
	}
	rebiller, ok := b.Adapter().(biller.Rebiller)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept rebills", domain.ErrBillerNotSupported, billerName)
	}
	return ExecuteCommand(ctx, s.gateway, Command(b.Name(), "rebillTransaction"), func(c context.Context) (*domain.Transaction, error) {
		return rebiller.RebillTransaction(c, mapping, transactionID, charge)
	})
}

// FindSession returns a persisted purchase session.
func (s *Service) FindSession(ctx context.Context, sessionID uuid.UUID) (*domain.PurchaseSession, error) {
	return s.sessions.FindSession(ctx, sessionID)
}

func (s *Service) billerAndMapping(ctx context.Context, siteID string, billerName domain.BillerName, currencyCode string) (biller.Biller, domain.BillerMapping, error) {
	b, err := s.catalog.ByName(billerName)
	if err != nil {
		return nil, domain.BillerMapping{}, err
	}
	mapping, err := s.configs.ResolveBillerMapping(ctx, siteID, billerName, currencyCode)
	if err != nil {
		return nil, domain.BillerMapping{}, fmt.Errorf("failed to resolve %s mapping for site %s: %w", billerName, siteID, err)
	}
	return b, mapping, nil
}

// resumeSession loads a persisted session and rebuilds the 3DS context,
// re-resolving the merchant credentials the session deliberately omits.
func (s *Service) resumeSession(ctx context.Context, sessionID uuid.UUID) (*domain.PurchaseSession, ThreeDSContext, error) {
	session, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return nil, ThreeDSContext{}, err
	}
	b, mapping, err := s.billerAndMapping(ctx, session.SiteID, session.BillerName, session.CurrencyCode)
	if err != nil {
		return nil, ThreeDSContext{}, err
	}
	tc := ThreeDSContext{
		Item:       session.MainItem,
		CrossSales: session.CrossSales,
		Biller:     b,
		Mapping:    mapping,
		Template: biller.ChargeRequest{
			Site:         session.Site,
			CurrencyCode: session.CurrencyCode,
			User:         session.User,
			Mapping:      mapping,
			ReturnURL:    session.Site.ReturnURL,
		},
		Advice: session.Advice,
		Site:   session.Site,
	}
	return session, tc, nil
}

func (s *Service) persistSession(ctx context.Context, session *domain.PurchaseSession) error {
	session.UpdatedAt = time.Now().UTC()
	return s.sessions.UpdateSession(ctx, session)
}

func (s *Service) finishThreeDSStep(ctx context.Context, session *domain.PurchaseSession, tx *domain.Transaction) error {
	if err := s.persistSession(ctx, session); err != nil {
		return fmt.Errorf("failed to persist purchase session %s: %w", session.SessionID, err)
	}
	frictionless := tx.ThreeDS != nil && tx.ThreeDS.Frictionless
	if !tx.Pending() {
		event := domain.ThreeDSCompletedEvent{
			SessionID:    session.SessionID,
			ItemID:       session.MainItem.ItemID,
			BillerName:   tx.BillerName,
			Status:       tx.Status,
			Frictionless: frictionless,
			Timestamp:    time.Now().UTC(),
		}
		if err := s.events.PublishThreeDSCompleted(ctx, event); err != nil {
			log.Printf("level=warn component=service session_id=%s msg=\"failed to publish threeds event\" err=%v", session.SessionID, err)
		}
	}
	return nil
}

func (s *Service) publishPurchaseOutcome(ctx context.Context, session *domain.PurchaseSession, item *domain.InitializedItem) {
	last := item.LastTransaction()
	if last == nil {
		return
	}
	event := domain.PurchaseProcessedEvent{
		SessionID:     session.SessionID,
		ItemID:        item.ItemID,
		SiteID:        item.SiteID,
		BillerName:    last.BillerName,
		Status:        last.Status,
		TransactionID: last.TransactionID,
		IsCrossSale:   item.IsCrossSale,
		NSF:           last.NSF,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.events.PublishPurchaseProcessed(ctx, event); err != nil {
		log.Printf("level=warn component=service session_id=%s item_id=%s msg=\"failed to publish purchase event\" err=%v", session.SessionID, item.ItemID, err)
	}
}
