package biller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beevik/etree"
	"github.com/velora/purchase-service/internal/domain"
)

func rocketgateTestMapping() domain.BillerMapping {
	return domain.BillerMapping{
		SiteID:       "site-1",
		CurrencyCode: "USD",
		BillerName:   domain.BillerRocketgate,
		Fields: domain.RocketgateFields{
			MerchantID:       "1390000",
			MerchantPassword: "pw-1",
			MerchantSiteID:   "5",
		},
	}
}

// rocketgateServer records the last gatewayRequest document and replies with
// a fixed gatewayResponse body.
func rocketgateServer(t *testing.T, responseBody string) (*httptest.Server, func() *etree.Element) {
	t.Helper()
	var lastRequest *etree.Element
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gateway/servlet/ServiceDispatcherAccess" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(body); err != nil {
			t.Errorf("unparsable request xml: %v", err)
		}
		lastRequest = doc.Root()
		fmt.Fprint(w, responseBody)
	}))
	return srv, func() *etree.Element { return lastRequest }
}

func TestRocketgateChargeNewCard_WritesGatewayRequest(t *testing.T) {
	srv, lastRequest := rocketgateServer(t, `<gatewayResponse><responseCode>0</responseCode><reasonCode>0</reasonCode><guidNo>100001</guidNo><merchantAccount>acct-2</merchantAccount></gatewayResponse>`)
	defer srv.Close()

	a := NewRocketgateAdapter(srv.URL)
	tx, err := a.ChargeNewCard(context.Background(), ChargeRequest{
		CurrencyCode: "USD",
		Charge:       domain.ChargeInformation{InitialAmount: 2999, RebillAmount: 1999, RebillDays: 30},
		Payment:      domain.NewCardInfo{Number: "4111111111111111", CVV: "123", ExpirationMonth: 12, ExpirationYear: 2030},
		Mapping:      rocketgateTestMapping(),
		Routing:      &domain.BinRouting{Attempt: 1, RoutingCode: "acct-2"},
		UseThreeD:    true,
		ReturnURL:    "https://merchant.example/return",
		User:         domain.UserInfo{Email: "member@example.com", Zip: "90210"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := lastRequest()
	if req == nil || req.Tag != "gatewayRequest" {
		t.Fatalf("expected a gatewayRequest document")
	}
	want := map[string]string{
		"transactionType":    "CC_PURCHASE",
		"merchantID":         "1390000",
		"merchantPassword":   "pw-1",
		"merchantSiteID":     "5",
		"amount":             "29.99",
		"rebillAmount":       "19.99",
		"rebillFrequency":    "30",
		"currency":           "USD",
		"cardNo":             "4111111111111111",
		"cvv2":               "123",
		"expireMonth":        "12",
		"expireYear":         "2030",
		"merchantAccount":    "acct-2",
		"use3DSecure":        "TRUE",
		"threeDSRedirectURL": "https://merchant.example/return",
		"email":              "member@example.com",
		"billingZipCode":     "90210",
	}
	for tag, value := range want {
		if got := childText(req, tag); got != value {
			t.Fatalf("expected %s=%q on the wire, got %q", tag, value, got)
		}
	}

	if !tx.Approved() {
		t.Fatalf("expected an approved transaction, got %s", tx.Status)
	}
	if tx.TransactionID == nil || *tx.TransactionID != "100001" {
		t.Fatalf("expected transaction id 100001, got %v", tx.TransactionID)
	}
	if tx.SuccessfulBinRouting == nil || tx.SuccessfulBinRouting.RoutingCode != "acct-2" {
		t.Fatalf("expected the merchant account reflected as routing, got %+v", tx.SuccessfulBinRouting)
	}
}

func TestRocketgateResponseCodeMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus domain.TransactionStatus
	}{
		{
			name:       "0 approves",
			body:       `<gatewayResponse><responseCode>0</responseCode><guidNo>1</guidNo></gatewayResponse>`,
			wantStatus: domain.StatusApproved,
		},
		{
			name:       "1 declines",
			body:       `<gatewayResponse><responseCode>1</responseCode><reasonCode>104</reasonCode><reasonDesc>declined</reasonDesc><guidNo>2</guidNo></gatewayResponse>`,
			wantStatus: domain.StatusDeclined,
		},
		{
			name:       "2 is pending",
			body:       `<gatewayResponse><responseCode>2</responseCode><guidNo>3</guidNo></gatewayResponse>`,
			wantStatus: domain.StatusPending,
		},
		{
			name:       "anything else aborts",
			body:       `<gatewayResponse><responseCode>3</responseCode><guidNo>4</guidNo></gatewayResponse>`,
			wantStatus: domain.StatusAborted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := rocketgateServer(t, tt.body)
			defer srv.Close()

			a := NewRocketgateAdapter(srv.URL)
			tx, err := a.ChargeNewCard(context.Background(), ChargeRequest{
				CurrencyCode: "USD",
				Charge:       domain.ChargeInformation{InitialAmount: 100},
				Payment:      domain.NewCardInfo{Number: "4111111111111111", CVV: "123", ExpirationMonth: 1, ExpirationYear: 2030},
				Mapping:      rocketgateTestMapping(),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tx.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, tx.Status)
			}
		})
	}
}

func TestRocketgateReasonCodeClassification(t *testing.T) {
	tests := []struct {
		name       string
		reasonCode string
		wantType   string
	}{
		{name: "bank decline is soft", reasonCode: "104", wantType: domain.ErrorTypeSoft},
		{name: "gateway code 200 is hard", reasonCode: "200", wantType: domain.ErrorTypeHard},
		{name: "gateway code 436 is hard", reasonCode: "436", wantType: domain.ErrorTypeHard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := fmt.Sprintf(`<gatewayResponse><responseCode>1</responseCode><reasonCode>%s</reasonCode><reasonDesc>declined</reasonDesc><guidNo>9</guidNo></gatewayResponse>`, tt.reasonCode)
			srv, _ := rocketgateServer(t, body)
			defer srv.Close()

			a := NewRocketgateAdapter(srv.URL)
			tx, err := a.ChargeNewCard(context.Background(), ChargeRequest{
				CurrencyCode: "USD",
				Charge:       domain.ChargeInformation{InitialAmount: 100},
				Payment:      domain.NewCardInfo{Number: "4111111111111111", CVV: "123", ExpirationMonth: 1, ExpirationYear: 2030},
				Mapping:      rocketgateTestMapping(),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tx.Classification == nil || tx.Classification.ErrorType != tt.wantType {
				t.Fatalf("expected %s decline for reason code %s, got %+v", tt.wantType, tt.reasonCode, tx.Classification)
			}
		})
	}
}

func TestRocketgateChargeCheque_OmitsRoutingAndThreeDS(t *testing.T) {
	srv, lastRequest := rocketgateServer(t, `<gatewayResponse><responseCode>0</responseCode><guidNo>55</guidNo></gatewayResponse>`)
	defer srv.Close()

	a := NewRocketgateAdapter(srv.URL)
	_, err := a.ChargeCheque(context.Background(), ChargeRequest{
		CurrencyCode: "USD",
		Charge:       domain.ChargeInformation{InitialAmount: 1500},
		Payment:      domain.ChequeInfo{RoutingNumber: "021000021", AccountNumber: "1234567", SavingsAccount: true},
		Mapping:      rocketgateTestMapping(),
		Routing:      &domain.BinRouting{Attempt: 1, RoutingCode: "acct-never"},
		UseThreeD:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := lastRequest()
	if got := childText(req, "transactionType"); got != "ACH_PURCHASE" {
		t.Fatalf("expected ACH_PURCHASE, got %s", got)
	}
	if got := childText(req, "routingNo"); got != "021000021" {
		t.Fatalf("expected routingNo on the wire, got %q", got)
	}
	if got := childText(req, "savingsAccount"); got != "TRUE" {
		t.Fatalf("expected savingsAccount=TRUE, got %q", got)
	}
	if childText(req, "merchantAccount") != "" {
		t.Fatalf("expected no merchantAccount on a cheque charge")
	}
	if childText(req, "use3DSecure") != "" {
		t.Fatalf("expected no use3DSecure on a cheque charge")
	}
}

func TestRocketgateLookup_CarriesDeviceCollectionFields(t *testing.T) {
	body := `<gatewayResponse><responseCode>2</responseCode><guidNo>77</guidNo>` +
		`<_3DSECURE_DEVICE_COLLECTION_URL>https://centinel.example/collect</_3DSECURE_DEVICE_COLLECTION_URL>` +
		`<_3DSECURE_VERSION>2.2.0</_3DSECURE_VERSION></gatewayResponse>`
	srv, lastRequest := rocketgateServer(t, body)
	defer srv.Close()

	a := NewRocketgateAdapter(srv.URL)
	tx, err := a.LookupThreeDS(context.Background(), ThreeDSLookupRequest{
		Mapping:             rocketgateTestMapping(),
		TransactionID:       "77",
		Charge:              domain.ChargeInformation{InitialAmount: 2999},
		CurrencyCode:        "USD",
		DeviceFingerprintID: "fp-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := lastRequest()
	if got := childText(req, "transactionType"); got != "CC_3DS_LOOKUP" {
		t.Fatalf("expected CC_3DS_LOOKUP, got %s", got)
	}
	if got := childText(req, "referenceGUID"); got != "77" {
		t.Fatalf("expected referenceGUID=77, got %q", got)
	}
	if got := childText(req, "threeDSDeviceFingerprintID"); got != "fp-1" {
		t.Fatalf("expected the device fingerprint forwarded, got %q", got)
	}

	if !tx.Pending() {
		t.Fatalf("expected a pending challenge, got %s", tx.Status)
	}
	if tx.ThreeDS == nil || tx.ThreeDS.DeviceCollectionURL != "https://centinel.example/collect" {
		t.Fatalf("expected the device collection url parsed, got %+v", tx.ThreeDS)
	}
}

func TestRocketgateRetrieve_ParsesCardRecord(t *testing.T) {
	body := `<gatewayResponse><responseCode>0</responseCode><guidNo>88</guidNo>` +
		`<approvedAmount>29.99</approvedAmount><currency>USD</currency>` +
		`<cardHash>hash-88</cardHash><cardNoFirstSix>411111</cardNoFirstSix><cardNoLastFour>1111</cardNoLastFour>` +
		`<cardExpireMonth>12</cardExpireMonth><cardExpireYear>2030</cardExpireYear>` +
		`<merchantAccount>acct-9</merchantAccount></gatewayResponse>`
	srv, _ := rocketgateServer(t, body)
	defer srv.Close()

	a := NewRocketgateAdapter(srv.URL)
	res, err := a.RetrieveTransaction(context.Background(), rocketgateTestMapping(), "88")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TransactionID != "88" || res.Amount != 2999 || res.CardHash != "hash-88" {
		t.Fatalf("expected the full record parsed, got %+v", res)
	}
	if res.MerchantAccount != "acct-9" {
		t.Fatalf("expected merchant account acct-9, got %q", res.MerchantAccount)
	}
	if res.Last4 != "1111" || res.ExpirationMonth != 12 || res.ExpirationYear != 2030 {
		t.Fatalf("expected card detail parsed, got %+v", res)
	}
}

func TestRocketgateRetrieve_MissingRecordIsNotFound(t *testing.T) {
	srv, _ := rocketgateServer(t, `<gatewayResponse><responseCode>1</responseCode></gatewayResponse>`)
	defer srv.Close()

	a := NewRocketgateAdapter(srv.URL)
	_, err := a.RetrieveTransaction(context.Background(), rocketgateTestMapping(), "missing")
	if !errors.Is(err, domain.ErrTransactionDataNotFound) {
		t.Fatalf("expected ErrTransactionDataNotFound, got %v", err)
	}
}

func TestRocketgateNon2xxIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewRocketgateAdapter(srv.URL)
	_, err := a.ChargeNewCard(context.Background(), ChargeRequest{
		CurrencyCode: "USD",
		Charge:       domain.ChargeInformation{InitialAmount: 100},
		Payment:      domain.NewCardInfo{Number: "4111111111111111", CVV: "123", ExpirationMonth: 1, ExpirationYear: 2030},
		Mapping:      rocketgateTestMapping(),
	})
	if !errors.Is(err, domain.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestFormatMinorAmount(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{minor: 2999, want: "29.99"},
		{minor: 100, want: "1.00"},
		{minor: 5, want: "0.05"},
		{minor: 0, want: "0.00"},
	}
	for _, tt := range tests {
		if got := formatMinorAmount(tt.minor); got != tt.want {
			t.Fatalf("expected %s for %d, got %s", tt.want, tt.minor, got)
		}
	}
}

func TestParseMinorAmount(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{amount: "29.99", want: 2999},
		{amount: "0.05", want: 5},
		{amount: "1.2", want: 120},
		{amount: "100", want: 10000},
		{amount: "-4.50", want: -450},
		// Exact at the high end of int64, where a float64 round trip drifts.
		{amount: "92233720368547758.07", want: 9223372036854775807},
		{amount: "92233720368547758.08", want: 0},
		{amount: "", want: 0},
		{amount: "abc", want: 0},
		{amount: "29.9x", want: 0},
		{amount: "1.999", want: 0},
	}
	for _, tt := range tests {
		if got := parseMinorAmount(tt.amount); got != tt.want {
			t.Fatalf("expected %d for %q, got %d", tt.want, tt.amount, got)
		}
	}
}
