package biller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/velora/purchase-service/internal/domain"
)

func qyssoTestMapping() domain.BillerMapping {
	return domain.BillerMapping{
		SiteID:       "site-1",
		CurrencyCode: "USD",
		BillerName:   domain.BillerQysso,
		Fields: domain.QyssoFields{
			CompanyNum:      "8635196",
			PersonalHashKey: "hash-key-1",
		},
	}
}

func qyssoServer(t *testing.T, responseBody string) (*httptest.Server, func() (string, url.Values)) {
	t.Helper()
	var lastPath string
	var lastForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Errorf("unparsable request form: %v", err)
		}
		lastForm = form
		fmt.Fprint(w, responseBody)
	}))
	return srv, func() (string, url.Values) { return lastPath, lastForm }
}

func TestQyssoChargeNewCard_SignsRequest(t *testing.T) {
	srv, last := qyssoServer(t, "Reply=000&TransID=70001")
	defer srv.Close()

	a := NewQyssoAdapter(srv.URL)
	mapping := qyssoTestMapping()
	tx, err := a.ChargeNewCard(context.Background(), ChargeRequest{
		CurrencyCode: "USD",
		Charge:       domain.ChargeInformation{InitialAmount: 2999},
		Payment:      domain.NewCardInfo{Number: "4111111111111111", CVV: "123", ExpirationMonth: 7, ExpirationYear: 2031},
		Mapping:      mapping,
		User:         domain.UserInfo{FirstName: "Pat", LastName: "Miller", Email: "pat@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, form := last()
	if path != "/member/remote_charge.asp" {
		t.Fatalf("unexpected path %s", path)
	}
	if got := form.Get("TransType"); got != "0" {
		t.Fatalf("expected TransType=0, got %q", got)
	}
	wantSig := qyssoSignature(mapping.Fields.(domain.QyssoFields), "29.99", "USD")
	if got := form.Get("Signature"); got != wantSig {
		t.Fatalf("expected signature %s, got %s", wantSig, got)
	}
	if got := form.Get("ClientFullName"); got != "Pat Miller" {
		t.Fatalf("expected ClientFullName joined, got %q", got)
	}
	if got := form.Get("ExpMonth"); got != "07" {
		t.Fatalf("expected zero-padded ExpMonth, got %q", got)
	}

	if !tx.Approved() {
		t.Fatalf("expected an approved transaction, got %s", tx.Status)
	}
}

func TestQyssoChargeThirdParty_ReturnsPaymentLink(t *testing.T) {
	srv, last := qyssoServer(t, "Reply=001&TransID=70002&PaymentURL=https%3A%2F%2Fpay.qysso.example%2Fp%2F70002")
	defer srv.Close()

	a := NewQyssoAdapter(srv.URL)
	tx, err := a.ChargeThirdParty(context.Background(), ChargeRequest{
		CurrencyCode: "USD",
		Charge:       domain.ChargeInformation{InitialAmount: 999},
		Payment:      domain.OtherPaymentInfo{PaymentType: "thirdParty", PaymentMethod: "sofort"},
		Mapping:      qyssoTestMapping(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, form := last()
	if path != "/member/hosted_page.asp" {
		t.Fatalf("unexpected path %s", path)
	}
	if got := form.Get("TransType"); got != "1" {
		t.Fatalf("expected TransType=1, got %q", got)
	}
	if got := form.Get("PayFor"); got != "sofort" {
		t.Fatalf("expected PayFor=sofort, got %q", got)
	}

	if !tx.Pending() {
		t.Fatalf("expected a pending hosted-page charge, got %s", tx.Status)
	}
	if tx.PaymentLinkURL != "https://pay.qysso.example/p/70002" {
		t.Fatalf("expected the payment link carried, got %q", tx.PaymentLinkURL)
	}
}

func TestQyssoRebill_SignsWithRebillAmount(t *testing.T) {
	srv, last := qyssoServer(t, "Reply=000&TransID=70003")
	defer srv.Close()

	a := NewQyssoAdapter(srv.URL)
	mapping := qyssoTestMapping()
	tx, err := a.RebillTransaction(context.Background(), mapping, "70001", domain.ChargeInformation{
		RebillAmount: 1999,
		CurrencyCode: "EUR",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, form := last()
	if got := form.Get("TransType"); got != "2" {
		t.Fatalf("expected TransType=2, got %q", got)
	}
	if got := form.Get("RefTransID"); got != "70001" {
		t.Fatalf("expected RefTransID=70001, got %q", got)
	}
	wantSig := qyssoSignature(mapping.Fields.(domain.QyssoFields), "19.99", "EUR")
	if got := form.Get("Signature"); got != wantSig {
		t.Fatalf("expected signature over the rebill amount, got %s", got)
	}
	if !tx.Approved() {
		t.Fatalf("expected an approved rebill, got %s", tx.Status)
	}
}

func qyssoNotification(f domain.QyssoFields, overrides map[string]string) []byte {
	values := url.Values{}
	values.Set("TransID", "70001")
	values.Set("Reply", "000")
	values.Set("ReplyDesc", "SUCCESS")
	values.Set("Amount", "29.99")
	values.Set("Currency", "USD")
	for k, v := range overrides {
		values.Set(k, v)
	}
	if values.Get("Signature") == "" {
		values.Set("Signature", qyssoSignature(f, values.Get("Amount"), values.Get("Currency")))
	}
	return []byte(values.Encode())
}

func TestQyssoAddBillerInteraction(t *testing.T) {
	mapping := qyssoTestMapping()
	fields := mapping.Fields.(domain.QyssoFields)

	tests := []struct {
		name       string
		payload    []byte
		wantStatus domain.TransactionStatus
		wantErr    error
	}{
		{
			name:       "valid approval notification",
			payload:    qyssoNotification(fields, nil),
			wantStatus: domain.StatusApproved,
		},
		{
			name:       "decline notification carries classification",
			payload:    qyssoNotification(fields, map[string]string{"Reply": "004", "ReplyDesc": "STOLEN CARD"}),
			wantStatus: domain.StatusDeclined,
		},
		{
			name:    "signature mismatch",
			payload: qyssoNotification(fields, map[string]string{"Signature": "deadbeef"}),
			wantErr: domain.ErrMalformedPayload,
		},
		{
			name:    "missing TransID",
			payload: []byte("Reply=000&Amount=29.99&Currency=USD"),
			wantErr: domain.ErrMalformedPayload,
		},
		{
			name:    "missing Reply",
			payload: []byte("TransID=70001&Amount=29.99&Currency=USD"),
			wantErr: domain.ErrMalformedPayload,
		},
		{
			name:    "replay of settled transaction",
			payload: qyssoNotification(fields, map[string]string{"Reply": "580"}),
			wantErr: domain.ErrTransactionAlreadyProcessed,
		},
	}

	a := NewQyssoAdapter("http://unused.example")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := a.AddBillerInteraction(context.Background(), mapping, tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tx.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, tx.Status)
			}
		})
	}
}

func TestQyssoReplyMapping(t *testing.T) {
	tests := []struct {
		reply string
		want  domain.TransactionStatus
	}{
		{reply: "000", want: domain.StatusApproved},
		{reply: "001", want: domain.StatusPending},
		{reply: "004", want: domain.StatusDeclined},
		{reply: "102", want: domain.StatusDeclined},
		{reply: "500", want: domain.StatusAborted},
	}
	for _, tt := range tests {
		if got := qyssoStatus(tt.reply); got != string(tt.want) {
			t.Fatalf("expected %s for reply %s, got %s", tt.want, tt.reply, got)
		}
	}
}

func TestQyssoThreeDSIsUnsupported(t *testing.T) {
	a := NewQyssoAdapter("http://unused.example")
	_, err := a.LookupThreeDS(context.Background(), ThreeDSLookupRequest{Mapping: qyssoTestMapping()})
	if !errors.Is(err, domain.ErrBillerNotSupported) {
		t.Fatalf("expected ErrBillerNotSupported, got %v", err)
	}
}
