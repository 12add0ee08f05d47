/**
 * @description
 * Wire adapter for Epoch. Epoch is a third-party biller: charges are
 * initiated as JSON invoice requests and the member is redirected to an
 * Epoch-hosted payment page, so new charges come back pending with a payment
 * link and are confirmed later through an asynchronous postback recorded via
 * AddBillerInteraction. The wire credential names (client_id, client_key,
 * client_verification_key) are part of the biller's contract.
 */

package biller

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/velora/purchase-service/internal/domain"
)

// EpochAdapter translates canonical requests into Epoch's JSON API.
type EpochAdapter struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewEpochAdapter creates an Epoch adapter with a bounded client timeout.
func NewEpochAdapter(baseURL string) *EpochAdapter {
	return &EpochAdapter{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func epochFields(mapping domain.BillerMapping) (domain.EpochFields, error) {
	f, ok := mapping.Fields.(domain.EpochFields)
	if !ok {
		return domain.EpochFields{}, fmt.Errorf("%w: mapping does not carry epoch credentials", domain.ErrInvalidResponse)
	}
	return f, nil
}

// epochInvoiceRequest is the payload for creating a payment invoice.
type epochInvoiceRequest struct {
	ClientID     string `json:"client_id"`
	ClientKey    string `json:"client_key"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	BillingEmail string `json:"billing_email,omitempty"`
	MemberID     string `json:"member_id,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	Country      string `json:"country,omitempty"`
	PaymentType  string `json:"payment_type,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	RebillAmount string `json:"rebill_amount,omitempty"`
	RebillDays   int    `json:"rebill_days,omitempty"`
}

// epochInvoiceResponse is Epoch's invoice/session response.
type epochInvoiceResponse struct {
	InvoiceID  string `json:"invoice_id"`
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// epochPostback is the asynchronous confirmation Epoch posts after the
// member completes (or abandons) the hosted payment page.
type epochPostback struct {
	InvoiceID       string `json:"invoice_id"`
	TransactionID   string `json:"transaction_id"`
	Event           string `json:"event"`
	Amount          string `json:"amount"`
	VerificationKey string `json:"client_verification_key"`
}

func (a *EpochAdapter) invoiceRequest(f domain.EpochFields, req ChargeRequest) epochInvoiceRequest {
	inv := epochInvoiceRequest{
		ClientID:     f.ClientID,
		ClientKey:    f.ClientKey,
		Amount:       formatMinorAmount(req.Charge.InitialAmount),
		Currency:     req.CurrencyCode,
		BillingEmail: req.User.Email,
		MemberID:     req.User.MemberID,
		IPAddress:    req.User.IPAddress,
		Country:      req.User.Country,
		RedirectURL:  req.ReturnURL,
	}
	if req.Charge.RebillAmount > 0 {
		inv.RebillAmount = formatMinorAmount(req.Charge.RebillAmount)
		inv.RebillDays = req.Charge.RebillDays
	}
	if other, ok := req.Payment.(domain.OtherPaymentInfo); ok {
		inv.PaymentType = other.PaymentType
	}
	return inv
}

// ChargeNewCard creates a card invoice. Epoch hosts the card entry page, so
// the result is pending with a payment link rather than an immediate
// approval.
func (a *EpochAdapter) ChargeNewCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := epochFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	inv := a.invoiceRequest(f, req)
	inv.PaymentType = "cc"
	return a.postInvoice(ctx, inv)
}

// ChargeExistingCard is not an Epoch operation; third-party billers use the
// redirect-based chargeThirdParty instead.
func (a *EpochAdapter) ChargeExistingCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerEpoch, "chargeExistingCard")
}

// ChargeCheque is not an Epoch operation.
func (a *EpochAdapter) ChargeCheque(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerEpoch, "chargeCheque")
}

// ChargeThirdParty creates a hosted-page invoice for any payment type Epoch
// resolves on its side.
func (a *EpochAdapter) ChargeThirdParty(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := epochFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	return a.postInvoice(ctx, a.invoiceRequest(f, req))
}

// LookupThreeDS is not an Epoch operation; authentication happens inside the
// hosted payment page.
func (a *EpochAdapter) LookupThreeDS(ctx context.Context, req ThreeDSLookupRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerEpoch, "lookupThreeDS")
}

// CompleteThreeDS is not an Epoch operation.
func (a *EpochAdapter) CompleteThreeDS(ctx context.Context, req ThreeDSCompleteRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerEpoch, "completeThreeDS")
}

// CompleteSimplifiedThreeDS is not an Epoch operation.
func (a *EpochAdapter) CompleteSimplifiedThreeDS(ctx context.Context, req SimplifiedCompleteRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerEpoch, "completeSimplifiedThreeDS")
}

// RetrieveTransaction fetches the invoice state for a prior transaction.
func (a *EpochAdapter) RetrieveTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.RetrieveTransactionResult, error) {
	f, err := epochFields(mapping)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/api/v1/invoices/"+transactionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-epoch-client-id", f.ClientID)
	httpReq.Header.Set("x-epoch-client-key", f.ClientKey)

	httpResp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute invoice request: %w", err)
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read invoice response: %w", err)
	}
	if httpResp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: epoch invoice %s", domain.ErrTransactionDataNotFound, transactionID)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Printf("level=warn component=epoch_adapter op=retrieve status=%d msg=\"non-2xx response\"", httpResp.StatusCode)
		return nil, fmt.Errorf("%w: epoch returned status %d", domain.ErrInvalidResponse, httpResp.StatusCode)
	}

	var payload struct {
		InvoiceID string `json:"invoice_id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Last4     string `json:"card_last4"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: unparsable invoice payload", domain.ErrInvalidResponse)
	}
	return TranslateRetrieve(domain.BillerEpoch, RawRetrieve{
		TransactionID: payload.InvoiceID,
		Status:        epochStatus(payload.Status),
		Amount:        payload.Amount,
		CurrencyCode:  payload.Currency,
		Last4:         payload.Last4,
	})
}

// AbortTransaction cancels an open invoice.
func (a *EpochAdapter) AbortTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.AbortResult, error) {
	f, err := epochFields(mapping)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{"client_id": f.ClientID, "client_key": f.ClientKey}
	resp, err := a.postJSON(ctx, "/api/v1/invoices/"+transactionID+"/cancel", payload)
	if err != nil {
		return nil, err
	}
	return TranslateAbort(domain.BillerEpoch, transactionID, epochStatus(resp.Status))
}

// AddBillerInteraction validates and translates an asynchronous Epoch
// postback. A payload that fails validation is a business outcome, not an
// infrastructure fault.
func (a *EpochAdapter) AddBillerInteraction(ctx context.Context, mapping domain.BillerMapping, payload []byte) (*domain.Transaction, error) {
	f, err := epochFields(mapping)
	if err != nil {
		return nil, err
	}
	var pb epochPostback
	if err := json.Unmarshal(payload, &pb); err != nil {
		return nil, fmt.Errorf("%w: unparsable epoch postback", domain.ErrMalformedPayload)
	}
	if pb.InvoiceID == "" || pb.Event == "" {
		return nil, fmt.Errorf("%w: epoch postback missing invoice_id or event", domain.ErrMalformedPayload)
	}
	if subtle.ConstantTimeCompare([]byte(pb.VerificationKey), []byte(f.VerificationKey)) != 1 {
		return nil, fmt.Errorf("%w: epoch postback verification key mismatch", domain.ErrMalformedPayload)
	}
	raw := RawResponse{
		TransactionID: pb.InvoiceID,
		Status:        epochEventStatus(pb.Event),
	}
	if pb.TransactionID != "" {
		raw.TransactionID = pb.TransactionID
	}
	return TranslateTransaction(domain.BillerEpoch, raw)
}

func (a *EpochAdapter) postInvoice(ctx context.Context, inv epochInvoiceRequest) (*domain.Transaction, error) {
	resp, err := a.postJSON(ctx, "/api/v1/invoices", inv)
	if err != nil {
		return nil, err
	}
	raw := RawResponse{
		TransactionID:  resp.InvoiceID,
		Status:         epochStatus(resp.Status),
		Code:           resp.Code,
		Reason:         resp.Message,
		PaymentLinkURL: resp.PaymentURL,
	}
	return TranslateTransaction(domain.BillerEpoch, raw)
}

func (a *EpochAdapter) postJSON(ctx context.Context, path string, payload interface{}) (*epochInvoiceResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal epoch request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create epoch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute epoch request: %w", err)
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read epoch response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Printf("level=warn component=epoch_adapter status=%d msg=\"non-2xx response\"", httpResp.StatusCode)
		return nil, fmt.Errorf("%w: epoch returned status %d", domain.ErrInvalidResponse, httpResp.StatusCode)
	}
	var resp epochInvoiceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: unparsable epoch payload", domain.ErrInvalidResponse)
	}
	return &resp, nil
}

func epochStatus(status string) string {
	switch status {
	case "paid", "settled":
		return string(domain.StatusApproved)
	case "open", "redirected":
		return string(domain.StatusPending)
	case "declined", "expired":
		return string(domain.StatusDeclined)
	case "cancelled", "canceled":
		return string(domain.StatusAborted)
	default:
		return status
	}
}

func epochEventStatus(event string) string {
	switch event {
	case "payment.success":
		return string(domain.StatusApproved)
	case "payment.declined":
		return string(domain.StatusDeclined)
	case "payment.cancelled":
		return string(domain.StatusAborted)
	default:
		return string(domain.StatusPending)
	}
}
