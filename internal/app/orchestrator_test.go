package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/domain"
)

// capturedCharge records one charge call the stub adapter received.
type capturedCharge struct {
	op  string
	req biller.ChargeRequest
}

type stubChargeResult struct {
	tx  *domain.Transaction
	err error
}

// stubAdapter is a scriptable WireAdapter shared by the app-layer tests.
// Charge responses are consumed in order; the last one repeats.
type stubAdapter struct {
	charges          []capturedCharge
	chargeResults    []stubChargeResult
	lookupResult     stubChargeResult
	completeResult   stubChargeResult
	simplifiedResult stubChargeResult
	retrieveResult   *domain.RetrieveTransactionResult
	retrieveErr      error
	lookupCalls      int
	completeCalls    int
	simplifiedCalls  int
	retrieveCalls    int
}

func (s *stubAdapter) nextChargeResult() stubChargeResult {
	idx := len(s.charges) - 1
	if idx >= len(s.chargeResults) {
		idx = len(s.chargeResults) - 1
	}
	if idx < 0 {
		return stubChargeResult{tx: approvedTx("stub")}
	}
	return s.chargeResults[idx]
}

func (s *stubAdapter) charge(op string, req biller.ChargeRequest) (*domain.Transaction, error) {
	s.charges = append(s.charges, capturedCharge{op: op, req: req})
	r := s.nextChargeResult()
	return r.tx, r.err
}

func (s *stubAdapter) ChargeNewCard(ctx context.Context, req biller.ChargeRequest) (*domain.Transaction, error) {
	return s.charge("newCard", req)
}

func (s *stubAdapter) ChargeExistingCard(ctx context.Context, req biller.ChargeRequest) (*domain.Transaction, error) {
	return s.charge("existingCard", req)
}

func (s *stubAdapter) ChargeCheque(ctx context.Context, req biller.ChargeRequest) (*domain.Transaction, error) {
	return s.charge("cheque", req)
}

func (s *stubAdapter) ChargeThirdParty(ctx context.Context, req biller.ChargeRequest) (*domain.Transaction, error) {
	return s.charge("thirdParty", req)
}

func (s *stubAdapter) LookupThreeDS(ctx context.Context, req biller.ThreeDSLookupRequest) (*domain.Transaction, error) {
	s.lookupCalls++
	return s.lookupResult.tx, s.lookupResult.err
}

func (s *stubAdapter) CompleteThreeDS(ctx context.Context, req biller.ThreeDSCompleteRequest) (*domain.Transaction, error) {
	s.completeCalls++
	return s.completeResult.tx, s.completeResult.err
}

func (s *stubAdapter) CompleteSimplifiedThreeDS(ctx context.Context, req biller.SimplifiedCompleteRequest) (*domain.Transaction, error) {
	s.simplifiedCalls++
	return s.simplifiedResult.tx, s.simplifiedResult.err
}

func (s *stubAdapter) RetrieveTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.RetrieveTransactionResult, error) {
	s.retrieveCalls++
	return s.retrieveResult, s.retrieveErr
}

func (s *stubAdapter) AbortTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.AbortResult, error) {
	return &domain.AbortResult{TransactionID: transactionID, Status: domain.StatusAborted}, nil
}

func approvedTx(transactionID string) *domain.Transaction {
	id := transactionID
	return &domain.Transaction{ID: uuid.New(), TransactionID: &id, Status: domain.StatusApproved}
}

func declinedTx(errorType string) *domain.Transaction {
	id := "declined-tx"
	return &domain.Transaction{
		ID:            uuid.New(),
		TransactionID: &id,
		Status:        domain.StatusDeclined,
		Classification: &domain.ErrorClassification{
			ErrorType: errorType,
			Message:   "declined",
		},
	}
}

func pendingTx(transactionID string) *domain.Transaction {
	id := transactionID
	return &domain.Transaction{ID: uuid.New(), TransactionID: &id, Status: domain.StatusPending}
}

func testBiller(t *testing.T, name domain.BillerName, stub *stubAdapter) biller.Biller {
	t.Helper()
	b, err := biller.NewCatalog(stub, stub, stub, stub).ByName(name)
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	return b
}

func testOrchestrator() *TransactionOrchestrator {
	gateway := NewCircuitBreakerGateway(NewMemoryCircuitStateStore(), DefaultBreakerSettings())
	o := NewTransactionOrchestrator(gateway)
	o.SetPropagator(NewCrossSaleAttemptPropagator(o))
	return o
}

func newCardItem() *domain.InitializedItem {
	return &domain.InitializedItem{
		ItemID:  uuid.New(),
		SiteID:  "site-1",
		Charge:  domain.ChargeInformation{InitialAmount: 2999, CurrencyCode: "USD"},
		Payment: domain.NewCardInfo{Number: "4111111111111111", CVV: "123", ExpirationMonth: 12, ExpirationYear: 2030},
	}
}

func rocketgateMapping() domain.BillerMapping {
	return domain.BillerMapping{
		SiteID:       "site-1",
		CurrencyCode: "USD",
		BillerName:   domain.BillerRocketgate,
		Fields:       domain.RocketgateFields{MerchantID: "m-1", MerchantPassword: "pw", MerchantSiteID: "1"},
	}
}

func TestAttempt_EmptyRoutingCollectionMakesExactlyOneAttempt(t *testing.T) {
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: declinedTx(domain.ErrorTypeSoft)}}}
	o := testOrchestrator()
	item := newCardItem()

	attempts := o.Attempt(context.Background(), item, domain.NewBinRoutingCollection(),
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 5})

	if len(attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", len(attempts))
	}
	if len(stub.charges) != 1 {
		t.Fatalf("expected exactly 1 adapter call, got %d", len(stub.charges))
	}
	if stub.charges[0].req.Routing != nil {
		t.Fatalf("expected no routing code on the single attempt, got %+v", stub.charges[0].req.Routing)
	}
	if len(item.Transactions) != 1 {
		t.Fatalf("expected attempt recorded on item, got %d transactions", len(item.Transactions))
	}
}

func TestAttempt_SingleCandidateStopsAfterFirstAttemptEvenOnDecline(t *testing.T) {
	routing := domain.NewBinRoutingCollection()
	routing.Add("shared", domain.BinRouting{Attempt: 1, RoutingCode: "acct-7"})
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: declinedTx(domain.ErrorTypeSoft)}}}
	o := testOrchestrator()

	attempts := o.Attempt(context.Background(), newCardItem(), routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 4})

	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt with a single candidate, got %d", len(attempts))
	}
	if got := stub.charges[0].req.Routing; got == nil || got.RoutingCode != "acct-7" {
		t.Fatalf("expected routing code acct-7 on the attempt, got %+v", got)
	}
}

func TestAttempt_MissingCandidateAttemptsWithoutRoutingThenStops(t *testing.T) {
	item := newCardItem()
	routing := domain.NewBinRoutingCollection()
	routing.Add(item.ItemID.String(), domain.BinRouting{Attempt: 1, RoutingCode: "acct-1"})
	routing.Add(item.ItemID.String(), domain.BinRouting{Attempt: 2, RoutingCode: "acct-2"})
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: declinedTx(domain.ErrorTypeSoft)}}}
	o := testOrchestrator()

	attempts := o.Attempt(context.Background(), item, routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 5})

	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts (two routed, one unrouted), got %d", len(attempts))
	}
	if got := stub.charges[0].req.Routing; got == nil || got.RoutingCode != "acct-1" {
		t.Fatalf("expected acct-1 on first attempt, got %+v", got)
	}
	if got := stub.charges[1].req.Routing; got == nil || got.RoutingCode != "acct-2" {
		t.Fatalf("expected acct-2 on second attempt, got %+v", got)
	}
	if stub.charges[2].req.Routing != nil {
		t.Fatalf("expected no routing on the final attempt, got %+v", stub.charges[2].req.Routing)
	}
}

func TestAttempt_RespectsSiteAttemptBudget(t *testing.T) {
	item := newCardItem()
	routing := domain.NewBinRoutingCollection()
	for i := 1; i <= 5; i++ {
		routing.Add(item.ItemID.String(), domain.BinRouting{Attempt: i, RoutingCode: "acct"})
	}
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: declinedTx(domain.ErrorTypeSoft)}}}
	o := testOrchestrator()

	attempts := o.Attempt(context.Background(), item, routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 2})

	if len(attempts) != 2 {
		t.Fatalf("expected attempts capped at the site budget of 2, got %d", len(attempts))
	}
}

func TestAttempt_StopsOnSuccess(t *testing.T) {
	item := newCardItem()
	routing := domain.NewBinRoutingCollection()
	for i := 1; i <= 3; i++ {
		routing.Add(item.ItemID.String(), domain.BinRouting{Attempt: i, RoutingCode: "acct"})
	}
	stub := &stubAdapter{chargeResults: []stubChargeResult{
		{tx: declinedTx(domain.ErrorTypeSoft)},
		{tx: approvedTx("tx-ok")},
	}}
	o := testOrchestrator()

	attempts := o.Attempt(context.Background(), item, routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 3})

	if len(attempts) != 2 {
		t.Fatalf("expected loop to stop after the approval, got %d attempts", len(attempts))
	}
	if !item.WasSuccessful() {
		t.Fatalf("expected item to report success")
	}
}

func TestAttempt_HardDeclineStopsOnlyWithBlacklistAdvice(t *testing.T) {
	tests := []struct {
		name               string
		blacklistOnDecline bool
		wantAttempts       int
	}{
		{name: "blacklist advice stops the loop", blacklistOnDecline: true, wantAttempts: 1},
		{name: "without blacklist advice the loop continues", blacklistOnDecline: false, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newCardItem()
			routing := domain.NewBinRoutingCollection()
			for i := 1; i <= 3; i++ {
				routing.Add(item.ItemID.String(), domain.BinRouting{Attempt: i, RoutingCode: "acct"})
			}
			stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: declinedTx(domain.ErrorTypeHard)}}}
			o := testOrchestrator()

			attempts := o.Attempt(context.Background(), item, routing,
				testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
				biller.ChargeRequest{CurrencyCode: "USD"},
				domain.FraudAdvice{BlacklistOnDecline: tt.blacklistOnDecline}, domain.Site{Attempts: 3})

			if len(attempts) != tt.wantAttempts {
				t.Fatalf("expected %d attempts, got %d", tt.wantAttempts, len(attempts))
			}
		})
	}
}

func TestAttempt_AdapterFaultRecordsAbortedTransaction(t *testing.T) {
	stub := &stubAdapter{chargeResults: []stubChargeResult{{err: errors.New("gateway unreachable")}}}
	o := testOrchestrator()
	item := newCardItem()

	attempts := o.Attempt(context.Background(), item, domain.NewBinRoutingCollection(),
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Status != domain.StatusAborted {
		t.Fatalf("expected aborted status, got %s", attempts[0].Status)
	}
	if attempts[0].TransactionID != nil {
		t.Fatalf("expected no biller transaction id on an aborted attempt")
	}
}

func TestAttempt_ThreeDSOnlyWhenForcedSupportedAndMainItem(t *testing.T) {
	tests := []struct {
		name        string
		billerName  domain.BillerName
		forceThreeD bool
		isCrossSale bool
		want        bool
	}{
		{name: "forced on rocketgate main item", billerName: domain.BillerRocketgate, forceThreeD: true, want: true},
		{name: "forced on netbilling main item", billerName: domain.BillerNetbilling, forceThreeD: true, want: true},
		{name: "not forced", billerName: domain.BillerRocketgate, forceThreeD: false, want: false},
		{name: "epoch never supports 3ds", billerName: domain.BillerEpoch, forceThreeD: true, want: false},
		{name: "qysso never supports 3ds", billerName: domain.BillerQysso, forceThreeD: true, want: false},
		{name: "cross-sale never authenticates", billerName: domain.BillerRocketgate, forceThreeD: true, isCrossSale: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
			o := testOrchestrator()
			item := newCardItem()
			item.IsCrossSale = tt.isCrossSale
			mapping := rocketgateMapping()
			mapping.BillerName = tt.billerName

			o.Attempt(context.Background(), item, domain.NewBinRoutingCollection(),
				testBiller(t, tt.billerName, stub), mapping,
				biller.ChargeRequest{CurrencyCode: "USD"},
				domain.FraudAdvice{ForceThreeD: tt.forceThreeD}, domain.Site{Attempts: 1})

			if got := stub.charges[0].req.UseThreeD; got != tt.want {
				t.Fatalf("expected UseThreeD=%t, got %t", tt.want, got)
			}
		})
	}
}

func TestAttempt_ExistingCardThreeDSRequiresSimplifiedFlag(t *testing.T) {
	tests := []struct {
		name          string
		fields        domain.BillerFields
		wantUseThreeD bool
	}{
		{
			name:          "simplified flag enables 3ds on stored cards",
			fields:        domain.RocketgateFields{MerchantID: "m-1", Simplified3DS: true},
			wantUseThreeD: true,
		},
		{
			name:          "without the flag stored cards skip 3ds",
			fields:        domain.RocketgateFields{MerchantID: "m-1"},
			wantUseThreeD: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
			o := testOrchestrator()
			item := newCardItem()
			item.Payment = domain.ExistingCardInfo{CardHash: "hash-1"}
			mapping := rocketgateMapping()
			mapping.Fields = tt.fields

			o.Attempt(context.Background(), item, domain.NewBinRoutingCollection(),
				testBiller(t, domain.BillerRocketgate, stub), mapping,
				biller.ChargeRequest{CurrencyCode: "USD"},
				domain.FraudAdvice{ForceThreeD: true}, domain.Site{Attempts: 1})

			if stub.charges[0].op != "existingCard" {
				t.Fatalf("expected existing-card dispatch, got %s", stub.charges[0].op)
			}
			if got := stub.charges[0].req.UseThreeD; got != tt.wantUseThreeD {
				t.Fatalf("expected UseThreeD=%t, got %t", tt.wantUseThreeD, got)
			}
		})
	}
}

func TestAttempt_ChequeIgnoresRoutingAndThreeDS(t *testing.T) {
	item := newCardItem()
	item.Payment = domain.ChequeInfo{RoutingNumber: "021000021", AccountNumber: "1234567"}
	routing := domain.NewBinRoutingCollection()
	routing.Add(item.ItemID.String(), domain.BinRouting{Attempt: 1, RoutingCode: "acct-1"})
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
	o := testOrchestrator()

	o.Attempt(context.Background(), item, routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"},
		domain.FraudAdvice{ForceThreeD: true}, domain.Site{Attempts: 1})

	if stub.charges[0].op != "cheque" {
		t.Fatalf("expected cheque dispatch, got %s", stub.charges[0].op)
	}
	if stub.charges[0].req.Routing != nil {
		t.Fatalf("expected cheque attempt without routing, got %+v", stub.charges[0].req.Routing)
	}
	if stub.charges[0].req.UseThreeD {
		t.Fatalf("expected cheque attempt without 3ds")
	}
}

func TestAttempt_PaymentTypeDispatch(t *testing.T) {
	tests := []struct {
		name    string
		payment domain.PaymentInfo
		wantOp  string
	}{
		{name: "new card", payment: domain.NewCardInfo{Number: "4111111111111111"}, wantOp: "newCard"},
		{name: "existing card", payment: domain.ExistingCardInfo{CardHash: "h"}, wantOp: "existingCard"},
		{name: "cheque", payment: domain.ChequeInfo{RoutingNumber: "r", AccountNumber: "a"}, wantOp: "cheque"},
		{name: "third party", payment: domain.OtherPaymentInfo{PaymentType: "paypal"}, wantOp: "thirdParty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
			o := testOrchestrator()
			item := newCardItem()
			item.Payment = tt.payment

			o.Attempt(context.Background(), item, domain.NewBinRoutingCollection(),
				testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
				biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

			if stub.charges[0].op != tt.wantOp {
				t.Fatalf("expected %s dispatch, got %s", tt.wantOp, stub.charges[0].op)
			}
		})
	}
}

func TestAttempt_NewCardMarksTransaction(t *testing.T) {
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
	o := testOrchestrator()
	item := newCardItem()

	attempts := o.Attempt(context.Background(), item, domain.NewBinRoutingCollection(),
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

	if !attempts[0].NewCardUsed {
		t.Fatalf("expected NewCardUsed on a new-card attempt")
	}
}

func TestAttempt_SuccessfulRoutingAttachedToTransaction(t *testing.T) {
	item := newCardItem()
	routing := domain.NewBinRoutingCollection()
	routing.Add("shared", domain.BinRouting{Attempt: 1, RoutingCode: "acct-9"})
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
	o := testOrchestrator()

	attempts := o.Attempt(context.Background(), item, routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

	if got := attempts[0].SuccessfulBinRouting; got == nil || got.RoutingCode != "acct-9" {
		t.Fatalf("expected successful routing acct-9 on the transaction, got %+v", got)
	}
}

func TestAttemptWithCrossSales_PropagatesPaymentAndRouting(t *testing.T) {
	item := newCardItem()
	routing := domain.NewBinRoutingCollection()
	routing.Add("shared", domain.BinRouting{Attempt: 1, RoutingCode: "acct-main"})
	crossSales := []*domain.InitializedItem{
		{ItemID: uuid.New(), SiteID: "site-1", IsCrossSale: true, Charge: domain.ChargeInformation{InitialAmount: 999, CurrencyCode: "USD"}},
		{ItemID: uuid.New(), SiteID: "site-1", IsCrossSale: true, Charge: domain.ChargeInformation{InitialAmount: 499, CurrencyCode: "USD"}},
	}
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
	o := testOrchestrator()

	o.AttemptWithCrossSales(context.Background(), item, crossSales, routing,
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

	if len(stub.charges) != 3 {
		t.Fatalf("expected main + 2 cross-sale attempts, got %d", len(stub.charges))
	}
	for i, c := range stub.charges[1:] {
		if c.req.Routing == nil || c.req.Routing.RoutingCode != "acct-main" {
			t.Fatalf("expected cross-sale %d to reuse routing acct-main, got %+v", i, c.req.Routing)
		}
		if _, ok := c.req.Payment.(domain.NewCardInfo); !ok {
			t.Fatalf("expected cross-sale %d to reuse the main payment instrument, got %T", i, c.req.Payment)
		}
	}
	for i, cs := range crossSales {
		if !cs.WasSuccessful() {
			t.Fatalf("expected cross-sale %d to succeed", i)
		}
	}
}

func TestAttemptWithCrossSales_SkipsCrossSalesOnMainFailure(t *testing.T) {
	item := newCardItem()
	crossSales := []*domain.InitializedItem{
		{ItemID: uuid.New(), SiteID: "site-1", IsCrossSale: true},
	}
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: declinedTx(domain.ErrorTypeSoft)}}}
	o := testOrchestrator()

	o.AttemptWithCrossSales(context.Background(), item, crossSales, domain.NewBinRoutingCollection(),
		testBiller(t, domain.BillerRocketgate, stub), rocketgateMapping(),
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

	if len(stub.charges) != 1 {
		t.Fatalf("expected only the main attempt, got %d calls", len(stub.charges))
	}
	if len(crossSales[0].Transactions) != 0 {
		t.Fatalf("expected no cross-sale attempts after a declined main item")
	}
}

func TestAttemptWithCrossSales_NetbillingCrossSalesBypassFraudChecks(t *testing.T) {
	item := newCardItem()
	crossSales := []*domain.InitializedItem{
		{ItemID: uuid.New(), SiteID: "site-1", IsCrossSale: true, Charge: domain.ChargeInformation{InitialAmount: 999, CurrencyCode: "USD"}},
	}
	mapping := domain.BillerMapping{
		SiteID:       "site-1",
		CurrencyCode: "USD",
		BillerName:   domain.BillerNetbilling,
		Fields:       domain.NetbillingFields{AccountID: "acc", SiteTag: "tag"},
	}
	stub := &stubAdapter{chargeResults: []stubChargeResult{{tx: approvedTx("tx")}}}
	o := testOrchestrator()

	o.AttemptWithCrossSales(context.Background(), item, crossSales, domain.NewBinRoutingCollection(),
		testBiller(t, domain.BillerNetbilling, stub), mapping,
		biller.ChargeRequest{CurrencyCode: "USD"}, domain.FraudAdvice{}, domain.Site{Attempts: 1})

	if stub.charges[0].req.Mapping.DisableFraudChecks {
		t.Fatalf("expected the main attempt to keep fraud checks enabled")
	}
	if !stub.charges[1].req.Mapping.DisableFraudChecks {
		t.Fatalf("expected the cross-sale attempt to bypass fraud checks on netbilling")
	}
}
