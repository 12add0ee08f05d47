/**
 * @description
 * Wire adapter for Netbilling's direct-mode API. Requests are form-encoded
 * POSTs and responses come back as urlencoded key/value pairs. The wire field
 * names (account_id, site_tag, ...) are part of the biller's contract.
 *
 * Netbilling does not take cheque payments and is not a third-party
 * (redirect) biller; those operations report ErrBillerNotSupported.
 */

package biller

import (
	"context"
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

// NetbillingAdapter translates canonical requests into Netbilling form posts.
type NetbillingAdapter struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewNetbillingAdapter creates a Netbilling adapter with a bounded client
// timeout.
func NewNetbillingAdapter(baseURL string) *NetbillingAdapter {
	return &NetbillingAdapter{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func netbillingFields(mapping domain.BillerMapping) (domain.NetbillingFields, error) {
	f, ok := mapping.Fields.(domain.NetbillingFields)
	if !ok {
		return domain.NetbillingFields{}, fmt.Errorf("%w: mapping does not carry netbilling credentials", domain.ErrInvalidResponse)
	}
	return f, nil
}

func (a *NetbillingAdapter) baseForm(f domain.NetbillingFields, req ChargeRequest) url.Values {
	form := url.Values{}
	form.Set("account_id", f.AccountID)
	form.Set("site_tag", f.SiteTag)
	if f.MerchantPassword != "" {
		form.Set("dynip_sec_code", f.MerchantPassword)
	}
	form.Set("pay_type", "C")
	form.Set("tran_mode", "A")
	form.Set("amount", formatMinorAmount(req.Charge.InitialAmount))
	if req.Charge.RebillAmount > 0 {
		form.Set("recurring_amount", formatMinorAmount(req.Charge.RebillAmount))
		form.Set("recurring_period", strconv.Itoa(req.Charge.RebillDays))
	}
	routing := ""
	if req.Routing != nil {
		routing = req.Routing.RoutingCode
	}
	// A mapping-level override beats the bin-routing candidate.
	if f.BinRoutingOverride != "" {
		routing = f.BinRoutingOverride
	}
	if routing != "" {
		form.Set("routing_code", routing)
	}
	if req.UseThreeD {
		form.Set("do_threed", "1")
		if req.ReturnURL != "" {
			form.Set("threed_return_url", req.ReturnURL)
		}
	}
	if req.Mapping.DisableFraudChecks {
		form.Set("disable_fraud_checks", "true")
	}
	form.Set("bill_name_first", req.User.FirstName)
	form.Set("bill_name_last", req.User.LastName)
	form.Set("bill_zip", req.User.Zip)
	form.Set("bill_country", req.User.Country)
	form.Set("cust_email", req.User.Email)
	form.Set("user_data", req.User.MemberID)
	if req.User.IPAddress != "" {
		form.Set("remote_addr", req.User.IPAddress)
	}
	return form
}

// ChargeNewCard performs a direct-mode sale with raw card data.
func (a *NetbillingAdapter) ChargeNewCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := netbillingFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	card, ok := req.Payment.(domain.NewCardInfo)
	if !ok {
		return nil, fmt.Errorf("%w: new-card charge requires card data", domain.ErrInvalidResponse)
	}
	form := a.baseForm(f, req)
	form.Set("card_number", card.Number)
	form.Set("card_cvv2", card.CVV)
	form.Set("card_expire", fmt.Sprintf("%02d%02d", card.ExpirationMonth, card.ExpirationYear%100))
	return a.postTransaction(ctx, form)
}

// ChargeExistingCard performs a direct-mode sale against a stored member
// token.
func (a *NetbillingAdapter) ChargeExistingCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := netbillingFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	card, ok := req.Payment.(domain.ExistingCardInfo)
	if !ok {
		return nil, fmt.Errorf("%w: existing-card charge requires a card token", domain.ErrInvalidResponse)
	}
	form := a.baseForm(f, req)
	form.Set("card_number", "CS:"+card.CardHash)
	return a.postTransaction(ctx, form)
}

// ChargeCheque is not a Netbilling operation.
func (a *NetbillingAdapter) ChargeCheque(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerNetbilling, "chargeCheque")
}

// ChargeThirdParty is not a Netbilling operation.
func (a *NetbillingAdapter) ChargeThirdParty(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerNetbilling, "chargeThirdParty")
}

// LookupThreeDS initiates the 3DS flow for a prior transaction.
func (a *NetbillingAdapter) LookupThreeDS(ctx context.Context, req ThreeDSLookupRequest) (*domain.Transaction, error) {
	f, err := netbillingFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("account_id", f.AccountID)
	form.Set("site_tag", f.SiteTag)
	form.Set("tran_mode", "3DL")
	form.Set("orig_id", req.TransactionID)
	form.Set("amount", formatMinorAmount(req.Charge.InitialAmount))
	if req.ReturnURL != "" {
		form.Set("threed_return_url", req.ReturnURL)
	}
	return a.postTransaction(ctx, form)
}

// CompleteThreeDS finishes the challenge flow with the ACS return data.
func (a *NetbillingAdapter) CompleteThreeDS(ctx context.Context, req ThreeDSCompleteRequest) (*domain.Transaction, error) {
	f, err := netbillingFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("account_id", f.AccountID)
	form.Set("site_tag", f.SiteTag)
	form.Set("tran_mode", "3DC")
	form.Set("orig_id", req.TransactionID)
	form.Set("pares", req.PARes)
	if req.MD != "" {
		form.Set("md", req.MD)
	}
	return a.postTransaction(ctx, form)
}

// CompleteSimplifiedThreeDS is a Rocketgate-only flow.
func (a *NetbillingAdapter) CompleteSimplifiedThreeDS(ctx context.Context, req SimplifiedCompleteRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerNetbilling, "completeSimplifiedThreeDS")
}

// RetrieveTransaction fetches the full transaction record.
func (a *NetbillingAdapter) RetrieveTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.RetrieveTransactionResult, error) {
	f, err := netbillingFields(mapping)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("account_id", f.AccountID)
	form.Set("site_tag", f.SiteTag)
	form.Set("tran_mode", "Q")
	form.Set("orig_id", transactionID)
	values, err := a.post(ctx, form)
	if err != nil {
		return nil, err
	}
	if values.Get("trans_id") == "" {
		return nil, fmt.Errorf("%w: netbilling transaction %s", domain.ErrTransactionDataNotFound, transactionID)
	}
	raw := RawRetrieve{
		TransactionID: values.Get("trans_id"),
		Status:        netbillingStatus(values.Get("status_code")),
		Amount:        parseMinorAmount(values.Get("settle_amount")),
		CurrencyCode:  values.Get("settle_currency"),
		CardHash:      values.Get("member_id"),
		Last4:         values.Get("card_last4"),
	}
	return TranslateRetrieve(domain.BillerNetbilling, raw)
}

// AbortTransaction voids a pending transaction.
func (a *NetbillingAdapter) AbortTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.AbortResult, error) {
	f, err := netbillingFields(mapping)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("account_id", f.AccountID)
	form.Set("site_tag", f.SiteTag)
	form.Set("tran_mode", "V")
	form.Set("orig_id", transactionID)
	values, err := a.post(ctx, form)
	if err != nil {
		return nil, err
	}
	return TranslateAbort(domain.BillerNetbilling, transactionID, netbillingStatus(values.Get("status_code")))
}

func (a *NetbillingAdapter) postTransaction(ctx context.Context, form url.Values) (*domain.Transaction, error) {
	values, err := a.post(ctx, form)
	if err != nil {
		return nil, err
	}
	return TranslateTransaction(domain.BillerNetbilling, netbillingRaw(values))
}

func (a *NetbillingAdapter) post(ctx context.Context, form url.Values) (url.Values, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/gw/native/direct3.2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create direct-mode request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute direct-mode request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read direct-mode response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Printf("level=warn component=netbilling_adapter status=%d msg=\"non-2xx direct-mode response\"", httpResp.StatusCode)
		return nil, fmt.Errorf("%w: direct-mode returned status %d", domain.ErrInvalidResponse, httpResp.StatusCode)
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable direct-mode response", domain.ErrInvalidResponse)
	}
	return values, nil
}

func netbillingRaw(values url.Values) RawResponse {
	raw := RawResponse{
		TransactionID: values.Get("trans_id"),
		Status:        netbillingStatus(values.Get("status_code")),
		Code:          values.Get("ret_code"),
		Reason:        values.Get("auth_msg"),
	}
	if raw.Status == string(domain.StatusDeclined) {
		raw.Decline = &RawDecline{
			Group:   values.Get("processor"),
			Type:    netbillingDeclineType(values.Get("ret_code")),
			Message: values.Get("auth_msg"),
			Action:  values.Get("advised_action"),
		}
	}
	if acs := values.Get("threed_acs_url"); acs != "" {
		raw.ThreeDS = &RawThreeDS{
			ACSURL:  acs,
			PAReq:   values.Get("threed_pareq"),
			Version: values.Get("threed_version"),
			MD:      values.Get("trans_id"),
		}
	}
	return raw
}

// netbilling status codes: 1 approved (T approved in test mode), D pending
// 3DS redirect, 0 declined, anything else is a gateway failure.
func netbillingStatus(code string) string {
	switch code {
	case "1", "T":
		return string(domain.StatusApproved)
	case "D":
		return string(domain.StatusPending)
	case "0":
		return string(domain.StatusDeclined)
	default:
		return string(domain.StatusAborted)
	}
}

func netbillingDeclineType(retCode string) string {
	switch retCode {
	case "903", "904", "905": // pickup / stolen / invalid account
		return domain.ErrorTypeHard
	default:
		return domain.ErrorTypeSoft
	}
}
