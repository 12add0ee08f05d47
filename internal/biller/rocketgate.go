/**
 * @description
 * Wire adapter for the Rocketgate gateway. Rocketgate's gateway service
 * speaks XML over HTTPS POST; requests are built with etree and responses
 * parsed back out of the `gatewayResponse` document. Field names on the wire
 * (merchantID, merchantPassword, merchantSiteID, sharedSecret, ...) are part
 * of the biller's contract and must not be renamed.
 *
 * Rocketgate is the only biller that accepts cheque (ACH) payments and the
 * only one whose 3DS flow carries the Cardinal device-collection and step-up
 * JWTs.
 *
 * @dependencies
 * - github.com/beevik/etree: XML document construction and parsing.
 */

package biller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/velora/purchase-service/internal/domain"
)

// Rocketgate transaction type codes on the gateway wire.
const (
	rocketgatePurchase   = "CC_PURCHASE"
	rocketgateCheque     = "ACH_PURCHASE"
	rocketgateLookup     = "CC_3DS_LOOKUP"
	rocketgateComplete   = "CC_3DS_COMPLETE"
	rocketgateSimplified = "CC_3DS_REDIRECT_COMPLETE"
	rocketgateVoid       = "CC_VOID"
	rocketgateRetrieve   = "CC_RETRIEVE"
)

// RocketgateAdapter translates canonical requests into Rocketgate gateway XML.
type RocketgateAdapter struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewRocketgateAdapter creates a Rocketgate adapter with a bounded client
// timeout so a hung gateway call never blocks the attempt loop indefinitely.
func NewRocketgateAdapter(baseURL string) *RocketgateAdapter {
	return &RocketgateAdapter{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func rocketgateFields(mapping domain.BillerMapping) (domain.RocketgateFields, error) {
	f, ok := mapping.Fields.(domain.RocketgateFields)
	if !ok {
		return domain.RocketgateFields{}, fmt.Errorf("%w: mapping does not carry rocketgate credentials", domain.ErrInvalidResponse)
	}
	return f, nil
}

func (a *RocketgateAdapter) newRequestDoc(txType string, f domain.RocketgateFields) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("gatewayRequest")
	root.CreateElement("transactionType").SetText(txType)
	root.CreateElement("merchantID").SetText(f.MerchantID)
	root.CreateElement("merchantPassword").SetText(f.MerchantPassword)
	root.CreateElement("merchantSiteID").SetText(f.MerchantSiteID)
	if f.SharedSecret != "" {
		root.CreateElement("sharedSecret").SetText(f.SharedSecret)
	}
	return doc, root
}

func addChargeElements(root *etree.Element, req ChargeRequest) {
	root.CreateElement("amount").SetText(formatMinorAmount(req.Charge.InitialAmount))
	root.CreateElement("currency").SetText(req.CurrencyCode)
	if req.Charge.RebillAmount > 0 {
		root.CreateElement("rebillAmount").SetText(formatMinorAmount(req.Charge.RebillAmount))
		root.CreateElement("rebillFrequency").SetText(strconv.Itoa(req.Charge.RebillDays))
	}
	if req.Routing != nil && req.Routing.RoutingCode != "" {
		// Rocketgate models bin routing as the target merchant account.
		root.CreateElement("merchantAccount").SetText(req.Routing.RoutingCode)
	}
	if req.UseThreeD {
		root.CreateElement("use3DSecure").SetText("TRUE")
	}
	if req.ReturnURL != "" {
		root.CreateElement("threeDSRedirectURL").SetText(req.ReturnURL)
	}
	if req.Mapping.DisableFraudChecks {
		root.CreateElement("scrubProfile").SetText("DISABLED")
	}
	addCustomerElements(root, req.User)
}

func addCustomerElements(root *etree.Element, u domain.UserInfo) {
	if u.MemberID != "" {
		root.CreateElement("merchantCustomerID").SetText(u.MemberID)
	}
	if u.Email != "" {
		root.CreateElement("email").SetText(u.Email)
	}
	if u.FirstName != "" {
		root.CreateElement("customerFirstName").SetText(u.FirstName)
	}
	if u.LastName != "" {
		root.CreateElement("customerLastName").SetText(u.LastName)
	}
	if u.Zip != "" {
		root.CreateElement("billingZipCode").SetText(u.Zip)
	}
	if u.Country != "" {
		root.CreateElement("billingCountry").SetText(u.Country)
	}
	if u.IPAddress != "" {
		root.CreateElement("ipAddress").SetText(u.IPAddress)
	}
}

// ChargeNewCard performs a card purchase with raw card data.
func (a *RocketgateAdapter) ChargeNewCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := rocketgateFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	card, ok := req.Payment.(domain.NewCardInfo)
	if !ok {
		return nil, fmt.Errorf("%w: new-card charge requires card data", domain.ErrInvalidResponse)
	}
	doc, root := a.newRequestDoc(rocketgatePurchase, f)
	addChargeElements(root, req)
	root.CreateElement("cardNo").SetText(card.Number)
	root.CreateElement("cvv2").SetText(card.CVV)
	root.CreateElement("expireMonth").SetText(strconv.Itoa(card.ExpirationMonth))
	root.CreateElement("expireYear").SetText(strconv.Itoa(card.ExpirationYear))
	return a.postTransaction(ctx, doc)
}

// ChargeExistingCard performs a card purchase against a stored card hash.
func (a *RocketgateAdapter) ChargeExistingCard(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := rocketgateFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	card, ok := req.Payment.(domain.ExistingCardInfo)
	if !ok {
		return nil, fmt.Errorf("%w: existing-card charge requires a card hash", domain.ErrInvalidResponse)
	}
	doc, root := a.newRequestDoc(rocketgatePurchase, f)
	addChargeElements(root, req)
	root.CreateElement("cardHash").SetText(card.CardHash)
	return a.postTransaction(ctx, doc)
}

// ChargeCheque performs an ACH purchase. Bin routing and 3DS do not apply to
// cheque payments and are never written to the wire.
func (a *RocketgateAdapter) ChargeCheque(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	f, err := rocketgateFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	cheque, ok := req.Payment.(domain.ChequeInfo)
	if !ok {
		return nil, fmt.Errorf("%w: cheque charge requires cheque data", domain.ErrInvalidResponse)
	}
	doc, root := a.newRequestDoc(rocketgateCheque, f)
	root.CreateElement("amount").SetText(formatMinorAmount(req.Charge.InitialAmount))
	root.CreateElement("currency").SetText(req.CurrencyCode)
	root.CreateElement("routingNo").SetText(cheque.RoutingNumber)
	root.CreateElement("accountNo").SetText(cheque.AccountNumber)
	if cheque.SavingsAccount {
		root.CreateElement("savingsAccount").SetText("TRUE")
	}
	if cheque.SocialSecurityLast4 != "" {
		root.CreateElement("ssNumber").SetText(cheque.SocialSecurityLast4)
	}
	addCustomerElements(root, req.User)
	return a.postTransaction(ctx, doc)
}

// ChargeThirdParty is not a Rocketgate operation; Rocketgate charges are
// always merchant-initiated.
func (a *RocketgateAdapter) ChargeThirdParty(ctx context.Context, req ChargeRequest) (*domain.Transaction, error) {
	return nil, unsupported(domain.BillerRocketgate, "chargeThirdParty")
}

// LookupThreeDS initiates the 3DS flow for a prior pending purchase.
func (a *RocketgateAdapter) LookupThreeDS(ctx context.Context, req ThreeDSLookupRequest) (*domain.Transaction, error) {
	f, err := rocketgateFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	doc, root := a.newRequestDoc(rocketgateLookup, f)
	root.CreateElement("referenceGUID").SetText(req.TransactionID)
	root.CreateElement("currency").SetText(req.CurrencyCode)
	root.CreateElement("amount").SetText(formatMinorAmount(req.Charge.InitialAmount))
	if req.ReturnURL != "" {
		root.CreateElement("threeDSRedirectURL").SetText(req.ReturnURL)
	}
	if req.DeviceFingerprintID != "" {
		root.CreateElement("threeDSDeviceFingerprintID").SetText(req.DeviceFingerprintID)
	}
	return a.postTransaction(ctx, doc)
}

// CompleteThreeDS finishes the full challenge flow with the ACS return data.
func (a *RocketgateAdapter) CompleteThreeDS(ctx context.Context, req ThreeDSCompleteRequest) (*domain.Transaction, error) {
	f, err := rocketgateFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	doc, root := a.newRequestDoc(rocketgateComplete, f)
	root.CreateElement("referenceGUID").SetText(req.TransactionID)
	root.CreateElement("PARES").SetText(req.PARes)
	if req.MD != "" {
		root.CreateElement("threeDSMD").SetText(req.MD)
	}
	return a.postTransaction(ctx, doc)
}

// CompleteSimplifiedThreeDS finishes the return-URL based flow with the
// opaque query string Rocketgate appended on redirect.
func (a *RocketgateAdapter) CompleteSimplifiedThreeDS(ctx context.Context, req SimplifiedCompleteRequest) (*domain.Transaction, error) {
	f, err := rocketgateFields(req.Mapping)
	if err != nil {
		return nil, err
	}
	doc, root := a.newRequestDoc(rocketgateSimplified, f)
	root.CreateElement("referenceGUID").SetText(req.TransactionID)
	root.CreateElement("threeDSRedirectResponse").SetText(req.ReturnQuery)
	return a.postTransaction(ctx, doc)
}

// RetrieveTransaction fetches the full transaction record, including the
// card hash and merchant account needed to drive cross-sales after 3DS.
func (a *RocketgateAdapter) RetrieveTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.RetrieveTransactionResult, error) {
	f, err := rocketgateFields(mapping)
	if err != nil {
		return nil, err
	}
	doc, root := a.newRequestDoc(rocketgateRetrieve, f)
	root.CreateElement("referenceGUID").SetText(transactionID)
	resp, err := a.post(ctx, doc)
	if err != nil {
		return nil, err
	}
	raw := RawRetrieve{
		TransactionID:   childText(resp, "guidNo"),
		Status:          rocketgateStatus(childText(resp, "responseCode")),
		CurrencyCode:    childText(resp, "currency"),
		CardHash:        childText(resp, "cardHash"),
		First6:          childText(resp, "cardNoFirstSix"),
		Last4:           childText(resp, "cardNoLastFour"),
		MerchantAccount: childText(resp, "merchantAccount"),
	}
	raw.Amount = parseMinorAmount(childText(resp, "approvedAmount"))
	raw.ExpirationMonth, _ = strconv.Atoi(childText(resp, "cardExpireMonth"))
	raw.ExpirationYear, _ = strconv.Atoi(childText(resp, "cardExpireYear"))
	if raw.TransactionID == "" {
		return nil, fmt.Errorf("%w: rocketgate transaction %s", domain.ErrTransactionDataNotFound, transactionID)
	}
	return TranslateRetrieve(domain.BillerRocketgate, raw)
}

// AbortTransaction voids a pending purchase.
func (a *RocketgateAdapter) AbortTransaction(ctx context.Context, mapping domain.BillerMapping, transactionID string) (*domain.AbortResult, error) {
	f, err := rocketgateFields(mapping)
	if err != nil {
		return nil, err
	}
	doc, root := a.newRequestDoc(rocketgateVoid, f)
	root.CreateElement("referenceGUID").SetText(transactionID)
	resp, err := a.post(ctx, doc)
	if err != nil {
		return nil, err
	}
	return TranslateAbort(domain.BillerRocketgate, transactionID, rocketgateStatus(childText(resp, "responseCode")))
}

func (a *RocketgateAdapter) postTransaction(ctx context.Context, doc *etree.Document) (*domain.Transaction, error) {
	resp, err := a.post(ctx, doc)
	if err != nil {
		return nil, err
	}
	return TranslateTransaction(domain.BillerRocketgate, rocketgateRaw(resp))
}

func (a *RocketgateAdapter) post(ctx context.Context, doc *etree.Document) (*etree.Element, error) {
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize gateway request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/gateway/servlet/ServiceDispatcherAccess", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml")

	httpResp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute gateway request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Printf("level=warn component=rocketgate_adapter status=%d msg=\"non-2xx gateway response\"", httpResp.StatusCode)
		return nil, fmt.Errorf("%w: gateway returned status %d", domain.ErrInvalidResponse, httpResp.StatusCode)
	}

	respDoc := etree.NewDocument()
	if err := respDoc.ReadFromBytes(respBody); err != nil {
		return nil, fmt.Errorf("%w: unparsable gateway xml", domain.ErrInvalidResponse)
	}
	root := respDoc.Root()
	if root == nil || root.Tag != "gatewayResponse" {
		return nil, fmt.Errorf("%w: missing gatewayResponse element", domain.ErrInvalidResponse)
	}
	return root, nil
}

// rocketgateRaw reduces a gatewayResponse element to the shared raw shape.
func rocketgateRaw(resp *etree.Element) RawResponse {
	raw := RawResponse{
		TransactionID: childText(resp, "guidNo"),
		Status:        rocketgateStatus(childText(resp, "responseCode")),
		Code:          childText(resp, "reasonCode"),
		Reason:        childText(resp, "reasonDesc"),
		RoutingCode:   childText(resp, "merchantAccount"),
	}
	if raw.Status == string(domain.StatusDeclined) {
		raw.Decline = &RawDecline{
			Group:   childText(resp, "bankResponseCode"),
			Type:    rocketgateDeclineType(raw.Code),
			Message: raw.Reason,
			Action:  childText(resp, "recommendedAction"),
		}
	}
	if acs := childText(resp, "acsURL"); acs != "" || childText(resp, "_3DSECURE_DEVICE_COLLECTION_URL") != "" {
		raw.ThreeDS = &RawThreeDS{
			ACSURL:              acs,
			PAReq:               childText(resp, "PAREQ"),
			Version:             childText(resp, "_3DSECURE_VERSION"),
			DeviceCollectionURL: childText(resp, "_3DSECURE_DEVICE_COLLECTION_URL"),
			DeviceCollectionJWT: childText(resp, "_3DSECURE_DEVICE_COLLECTION_JWT"),
			StepUpURL:           childText(resp, "_3DSECURE_STEP_UP_URL"),
			StepUpJWT:           childText(resp, "_3DSECURE_STEP_UP_JWT"),
			MD:                  childText(resp, "guidNo"),
		}
	}
	return raw
}

// rocketgateStatus maps the gateway's numeric response code to a canonical
// status. 0=approved, 1=declined, 2=pending (3DS or risk review), anything
// else is a gateway-side failure.
func rocketgateStatus(responseCode string) string {
	switch responseCode {
	case "0":
		return string(domain.StatusApproved)
	case "1":
		return string(domain.StatusDeclined)
	case "2":
		return string(domain.StatusPending)
	default:
		return string(domain.StatusAborted)
	}
}

// Reason codes at or above 200 are gateway/system level and never succeed on
// retry with the same card.
func rocketgateDeclineType(reasonCode string) string {
	n, err := strconv.Atoi(reasonCode)
	if err != nil {
		return domain.ErrorTypeSoft
	}
	if n >= 200 {
		return domain.ErrorTypeHard
	}
	return domain.ErrorTypeSoft
}

func childText(el *etree.Element, tag string) string {
	if child := el.FindElement(tag); child != nil {
		return child.Text()
	}
	return ""
}

func formatMinorAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// parseMinorAmount converts a biller decimal amount ("29.99") into minor
// units without going through floating point. Malformed amounts resolve to
// zero; billers quote at most two decimals.
func parseMinorAmount(s string) int64 {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0
	}
	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		cents, err = strconv.ParseInt(frac+"0", 10, 64)
	case 2:
		cents, err = strconv.ParseInt(frac, 10, 64)
	default:
		return 0
	}
	if err != nil || cents < 0 {
		return 0
	}
	if units > (math.MaxInt64-cents)/100 {
		return 0
	}
	minor := units*100 + cents
	if neg {
		minor = -minor
	}
	return minor
}
