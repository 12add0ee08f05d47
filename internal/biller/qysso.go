/**
 * @description
 * Wire adapter for Qysso. Qysso charges are form posts signed with the
 * merchant's personal hash key (SHA-256 over company number, amount,
 * currency, and the key); hosted-page charges come back pending with a
 * payment link and are confirmed through a signed server-to-server
 * notification recorded via AddBillerInteraction. Qysso is also the only
 * biller that accepts server-initiated rebills against a prior transaction.
 *
 * The wire field names (CompanyNum, PersonalHashKey signature inputs, ...)
 * are part of the biller's contract.
 */

package biller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/velora/purchase-service/internal/domain"
)

// QyssoAdapter translates canonical requests into Qysso form posts.
type QyssoAdapter struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewQyssoAdapter creates a Qysso adapter with a bounded client timeout.
func NewQyssoAdapter(baseURL string) *QyssoAdapter {
	return &QyssoAdapter{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func qyssoFields(mapping domain.BillerMapping) (domain.QyssoFields, error) {
	f, ok := mapping.Fields.(domain.QyssoFields)
	if !ok {
		return domain.QyssoFields{}, fmt.Errorf("%w: mapping does not carry qysso credentials", domain.ErrInvalidResponse)
	}
	return f, nil
}

// qyssoSignature computes the request signature: SHA-256 over the company
// number, amount, currency, and personal hash key.
func qyssoSignature(f domain.QyssoFields, amount, currency string) string {
	sum := sha256.Sum256([]byte(f.CompanyNum + amount + currency + f.PersonalHashKey))
	return hex.EncodeToString(sum[:])
}

func (a *QyssoAdapter) baseForm(f domain.QyssoFields, req ChargeRequest) url.Values {
	amount := formatMinorAmount(req.Charge.InitialAmount)
	form := url.Values{}
	form.Set("CompanyNum", f.CompanyNum)
	form.Set("Amount", amount)
	form.Set("Currency", req.CurrencyCode)
	form.Set("Signature", qyssoSignature(f, amount, req.CurrencyCode))
	form.Set("ClientEmail", req.User.Email)
	form.Set("ClientFullName", strings.TrimSpace(req.User.FirstName+" "+req.User.LastName))
	form.Set("ClientIP", req.User.IPAddress)
	form.Set("Order", req.User.MemberID)
	if req.Charge.RebillAmount > 0 {
		form.Set("RecurringAmount", formatMinorAmount(req.Charge.RebillAmount))
		form.Set("RecurringPeriod", strconv.Itoa(req.Charge.RebillDays))
	}
	if req.ReturnURL != "" {
		form.Set("RedirectURL", req.ReturnURL)
	}
	return form
}

// ChargeNewCard performs a direct signed charge with raw card data.
func (a *QyssoAdapter) ChargeNewCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := qyssoFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	card, ok := req.Payment.(domain.NewCardInfo)
	if !ok {
		return nil, fmt.Errorf("%w: new-card charge requires card data", domain.ErrInvalidResponse)
	}
	form := a.baseForm(f, req)
	form.Set("TransType", "0")
	form.Set("CardNum", card.Number)
	form.Set("CVV2", card.CVV)
	form.Set("ExpMonth", fmt.Sprintf("%02d", card.ExpirationMonth))
	form.Set("ExpYear", strconv.Itoa(card.ExpirationYear))
	return a.postTransaction(ctx, "/member/remote_charge.asp", form)
}

// ChargeExistingCard is not a Qysso operation; third-party billers use the
// redirect-based chargeThirdParty instead.
func (a *QyssoAdapter) ChargeExistingCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerQysso, "chargeExistingCard")
}

// ChargeCheque is not a Qysso operation.
func (a *QyssoAdapter) ChargeCheque(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerQysso, "chargeCheque")
}

// ChargeThirdParty opens a hosted-page charge; the member finishes payment on
// Qysso's side and the result arrives through a signed notification.
func (a *QyssoAdapter) ChargeThirdParty(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := qyssoFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	form := a.baseForm(f, req)
	form.Set("TransType", "1")
	if other, ok := req.Payment.(domain.OtherPaymentInfo); ok && other.PaymentMethod != "" {
		form.Set("PayFor", other.PaymentMethod)
	}
	return a.postTransaction(ctx, "/member/hosted_page.asp", form)
}

// LookupThreeDS is not a Qysso operation.
func (a *QyssoAdapter) LookupThreeDS(ctx context.Context, req ThreeDSLookupRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerQysso, "lookupThreeDS")
}

// CompleteThreeDS is not a Qysso operation.
func (a *QyssoAdapter) CompleteThreeDS(ctx context.Context, req ThreeDSCompleteRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerQysso, "completeThreeDS")
}

// CompleteSimplifiedThreeDS is not a Qysso operation.
func (a *QyssoAdapter) CompleteSimplifiedThreeDS(ctx context.Context, req SimplifiedCompleteRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerQysso, "completeSimplifiedThreeDS")
}

// RetrieveTransaction fetches the state of a prior transaction.
func (a *QyssoAdapter) RetrieveTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.RetrieveTransactionResult, error) {
	f, err := qyssoFields(mapping)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("CompanyNum", f.CompanyNum)
	form.Set("TransID", transactionID)
	form.Set("Signature", qyssoSignature(f, transactionID, ""))
	values, err := a.post(ctx, "/member/trans_status.asp", form)
	if err != nil {
		return nil, err
	}
	if values.Get("TransID") == "" {
		return nil, fmt.Errorf("%w: qysso transaction %s", domain.ErrTransactionDataNotFound, transactionID)
	}
	return TranslateRetrieve(domain.BillerQysso, RawRetrieve{
		TransactionID: values.Get("TransID"),
		Status:        qyssoStatus(values.Get("Reply")),
		Amount:        parseMinorAmount(values.Get("Amount")),
		CurrencyCode:  values.Get("Currency"),
		Last4:         values.Get("CardLast4"),
	})
}

// AbortTransaction cancels a pending transaction.
func (a *QyssoAdapter) AbortTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.AbortResult, error) {
	f, err := qyssoFields(mapping)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("CompanyNum", f.CompanyNum)
	form.Set("TransID", transactionID)
	form.Set("TransType", "4")
	form.Set("Signature", qyssoSignature(f, transactionID, ""))
	values, err := a.post(ctx, "/member/remote_charge.asp", form)
	if err != nil {
		return nil, err
	}
	return TranslateAbort(domain.BillerQysso, transactionID, qyssoStatus(values.Get("Reply")))
}

// RebillTransaction performs a server-initiated rebill against a prior
// transaction.
func (a *QyssoAdapter) RebillTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string, charge domain.ChargeInformation) (*domain.Transaction, error) {
	f, err := qyssoFields(mapping)
	if err != nil {
		return nil, err
	}
	amount := formatMinorAmount(charge.RebillAmount)
	form := url.Values{}
	form.Set("CompanyNum", f.CompanyNum)
	form.Set("TransType", "2")
	form.Set("RefTransID", transactionID)
	form.Set("Amount", amount)
	form.Set("Currency", charge.CurrencyCode)
	form.Set("Signature", qyssoSignature(f, amount, charge.CurrencyCode))
	return a.postTransaction(ctx, "/member/remote_charge.asp", form)
}

// AddBillerInteraction validates and translates a signed Qysso notification.
// Signature or shape failures are malformed-payload business outcomes;
// replays against an already-confirmed transaction are already-processed
// business outcomes. Both bypass the circuit breaker and reach the caller
// unchanged.
func (a *QyssoAdapter) AddBillerInteraction(ctx context.Context, mapping domain.BillerMapping, payload []byte) (*domain.Transaction, error) {
	f, err := qyssoFields(mapping)
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable qysso notification", domain.ErrMalformedPayload)
	}
	transID := values.Get("TransID")
	reply := values.Get("Reply")
	if transID == "" || reply == "" {
		return nil, fmt.Errorf("%w: qysso notification missing TransID or Reply", domain.ErrMalformedPayload)
	}
	expected := qyssoSignature(f, values.Get("Amount"), values.Get("Currency"))
	if values.Get("Signature") != expected {
		return nil, fmt.Errorf("%w: qysso notification signature mismatch", domain.ErrMalformedPayload)
	}
	if reply == qyssoReplyAlreadyProcessed {
		return nil, fmt.Errorf("%w: qysso transaction %s", domain.ErrTransactionAlreadyProcessed, transID)
	}
	raw := RawResponse{
		TransactionID: transID,
		Status:        qyssoStatus(reply),
		Code:          reply,
		Reason:        values.Get("ReplyDesc"),
	}
	if raw.Status == string(domain.StatusDeclined) {
		raw.Decline = &RawDecline{
			Type:    qyssoDeclineType(reply),
			Message: values.Get("ReplyDesc"),
		}
	}
	return TranslateTransaction(domain.BillerQysso, raw)
}

// Reply code Qysso sends when a notification replays a settled transaction.
const qyssoReplyAlreadyProcessed = "580"

func (a *QyssoAdapter) postTransaction(ctx context.Context, path string, form url.Values) (*domain.Transaction, error) {
	values, err := a.post(ctx, path, form)
	if err != nil {
		return nil, err
	}
	return TranslateTransaction(domain.BillerQysso, qyssoRaw(values))
}

func (a *QyssoAdapter) post(ctx context.Context, path string, form url.Values) (url.Values, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create qysso request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute qysso request: %w", err)
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read qysso response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Printf("level=warn component=qysso_adapter status=%d msg=\"non-2xx response\"", httpResp.StatusCode)
		return nil, fmt.Errorf("%w: qysso returned status %d", domain.ErrInvalidResponse, httpResp.StatusCode)
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable qysso response", domain.ErrInvalidResponse)
	}
	return values, nil
}

func qyssoRaw(values url.Values) RawResponse {
	raw := RawResponse{
		TransactionID:  values.Get("TransID"),
		Status:         qyssoStatus(values.Get("Reply")),
		Code:           values.Get("Reply"),
		Reason:         values.Get("ReplyDesc"),
		PaymentLinkURL: values.Get("PaymentURL"),
	}
	if raw.Status == string(domain.StatusDeclined) {
		raw.Decline = &RawDecline{
			Type:    qyssoDeclineType(raw.Code),
			Message: raw.Reason,
		}
	}
	return raw
}

// Reply 000 is approved, 001 is a pending hosted-page/redirect charge;
// 5xx replies are gateway failures, everything else is a decline.
func qyssoStatus(reply string) string {
	switch {
	case reply == "000":
		return string(domain.StatusApproved)
	case reply == "001":
		return string(domain.StatusPending)
	case strings.HasPrefix(reply, "5"):
		return string(domain.StatusAborted)
	case reply == "":
		return ""
	default:
		return string(domain.StatusDeclined)
	}
}

func qyssoDeclineType(reply string) string {
	switch reply {
	case "004", "033", "034": // stolen card / fraud replies
		return domain.ErrorTypeHard
	default:
		return domain.ErrorTypeSoft
	}
}
