/**
 * @description
 * This file contains the HTTP handlers for the purchase-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/velora/purchase-service/internal/app"
	"github.com/velora/purchase-service/internal/domain"
	"github.com/velora/purchase-service/internal/store"
)

// PurchaseHandlers holds the application service that handlers will use.
type PurchaseHandlers struct {
	service *app.Service
}

// NewPurchaseHandlers creates a new instance of PurchaseHandlers.
func NewPurchaseHandlers(service *app.Service) *PurchaseHandlers {
	return &PurchaseHandlers{service: service}
}

// purchasePayload is the wire shape of a purchase request. The payment
// instrument arrives as a type tag plus a raw body because the concrete
// variant is only known at decode time.
type purchasePayload struct {
	SiteID            string                   `json:"site_id"`
	CurrencyCode      string                   `json:"currency_code"`
	User              domain.UserInfo          `json:"user"`
	PaymentType       domain.PaymentType       `json:"payment_type"`
	Payment           json.RawMessage          `json:"payment"`
	Charge            domain.ChargeInformation `json:"charge"`
	CrossSales        []app.CrossSaleRequest   `json:"cross_sales,omitempty"`
	ForceCascade      string                   `json:"force_cascade,omitempty"`
	InitialJoinBiller string                   `json:"initial_join_biller,omitempty"`
	TrafficSource     string                   `json:"traffic_source,omitempty"`
	PaymentMethod     string                   `json:"payment_method,omitempty"`
}

// transactionView is the attempt representation returned to API callers.
// Biller credentials and raw card data never appear here.
type transactionView struct {
	ID             string              `json:"id"`
	TransactionID  *string             `json:"transaction_id,omitempty"`
	Status         string              `json:"status"`
	BillerName     string              `json:"biller_name"`
	Code           string              `json:"code,omitempty"`
	NSF            bool                `json:"nsf"`
	PaymentLinkURL string              `json:"payment_link_url,omitempty"`
	ThreeDS        *domain.ThreeDSInfo `json:"three_ds,omitempty"`
}

type itemView struct {
	ItemID       string            `json:"item_id"`
	SiteID       string            `json:"site_id"`
	IsCrossSale  bool              `json:"is_cross_sale"`
	Transactions []transactionView `json:"transactions"`
}

type sessionView struct {
	SessionID  string     `json:"session_id"`
	SiteID     string     `json:"site_id"`
	BillerName string     `json:"biller_name"`
	MainItem   itemView   `json:"main_item"`
	CrossSales []itemView `json:"cross_sales,omitempty"`
}

func buildTransactionView(tx *domain.Transaction) transactionView {
	return transactionView{
		ID:             tx.ID.String(),
		TransactionID:  tx.TransactionID,
		Status:         string(tx.Status),
		BillerName:     string(tx.BillerName),
		Code:           tx.Code,
		NSF:            tx.NSF,
		PaymentLinkURL: tx.PaymentLinkURL,
		ThreeDS:        tx.ThreeDS,
	}
}

func buildItemView(item *domain.InitializedItem) itemView {
	view := itemView{
		ItemID:      item.ItemID.String(),
		SiteID:      item.SiteID,
		IsCrossSale: item.IsCrossSale,
	}
	for _, tx := range item.Transactions {
		view.Transactions = append(view.Transactions, buildTransactionView(tx))
	}
	return view
}

func buildSessionView(session *domain.PurchaseSession) sessionView {
	view := sessionView{
		SessionID:  session.SessionID.String(),
		SiteID:     session.SiteID,
		BillerName: string(session.BillerName),
		MainItem:   buildItemView(session.MainItem),
	}
	for _, cs := range session.CrossSales {
		view.CrossSales = append(view.CrossSales, buildItemView(cs))
	}
	return view
}

// PurchaseHandler handles requests to process a new purchase.
func (h *PurchaseHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var payload purchasePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(payload.SiteID) == "" || strings.TrimSpace(payload.CurrencyCode) == "" {
		h.writeError(w, http.StatusBadRequest, "site_id and currency_code are required")
		return
	}

	payment, err := domain.DecodePaymentInfo(payload.PaymentType, payload.Payment)
	if err != nil {
		log.Printf("level=warn component=api endpoint=purchase outcome=reject reason=invalid_payment site_id=%s err=%v", payload.SiteID, err)
		h.writeError(w, http.StatusBadRequest, "Invalid payment information")
		return
	}

	session, err := h.service.Purchase(r.Context(), app.PurchaseRequest{
		SiteID:            payload.SiteID,
		CurrencyCode:      payload.CurrencyCode,
		User:              payload.User,
		Payment:           payment,
		Charge:            payload.Charge,
		CrossSales:        payload.CrossSales,
		ForceCascade:      payload.ForceCascade,
		InitialJoinBiller: payload.InitialJoinBiller,
		TrafficSource:     payload.TrafficSource,
		PaymentMethod:     payload.PaymentMethod,
	})
	if err != nil {
		h.writeServiceError(w, "purchase", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, buildSessionView(session))
}

// GetSessionHandler returns a persisted purchase session.
func (h *PurchaseHandlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.parseSessionID(w, r)
	if !ok {
		return
	}
	session, err := h.service.FindSession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "get_session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildSessionView(session))
}

// ThreeDSLookupHandler initiates 3DS authentication on a pending session.
func (h *PurchaseHandlers) ThreeDSLookupHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.parseSessionID(w, r)
	if !ok {
		return
	}
	var payload struct {
		DeviceFingerprintID string `json:"device_fingerprint_id,omitempty"`
	}
	if r.Body != nil {
		// The body is optional for lookup.
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	session, tx, err := h.service.LookupThreeDS(r.Context(), sessionID, payload.DeviceFingerprintID)
	if err != nil {
		h.writeServiceError(w, "threeds_lookup", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":     buildSessionView(session),
		"transaction": buildTransactionView(tx),
	})
}

// ThreeDSCompleteHandler finishes the full challenge flow with the ACS
// return data.
func (h *PurchaseHandlers) ThreeDSCompleteHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.parseSessionID(w, r)
	if !ok {
		return
	}
	var payload struct {
		TransactionID string `json:"transaction_id"`
		PARes         string `json:"pares"`
		MD            string `json:"md,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	session, tx, err := h.service.CompleteThreeDS(r.Context(), sessionID, payload.TransactionID, payload.PARes, payload.MD)
	if err != nil {
		h.writeServiceError(w, "threeds_complete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":     buildSessionView(session),
		"transaction": buildTransactionView(tx),
	})
}

// ThreeDSSimplifiedCompleteHandler finishes the return-URL based flow.
func (h *PurchaseHandlers) ThreeDSSimplifiedCompleteHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.parseSessionID(w, r)
	if !ok {
		return
	}
	var payload struct {
		TransactionID string `json:"transaction_id"`
		ReturnQuery   string `json:"return_query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	session, tx, err := h.service.CompleteSimplifiedThreeDS(r.Context(), sessionID, payload.TransactionID, payload.ReturnQuery)
	if err != nil {
		h.writeServiceError(w, "threeds_simplified_complete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":     buildSessionView(session),
		"transaction": buildTransactionView(tx),
	})
}

// RetrieveTransactionHandler fetches the full transaction record from a biller.
func (h *PurchaseHandlers) RetrieveTransactionHandler(w http.ResponseWriter, r *http.Request) {
	billerName, siteID, currency, ok := h.parseBillerScope(w, r)
	if !ok {
		return
	}
	transactionID := chi.URLParam(r, "transactionID")

	result, err := h.service.RetrieveTransaction(r.Context(), siteID, billerName, currency, transactionID)
	if err != nil {
		h.writeServiceError(w, "retrieve_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// AbortTransactionHandler voids a pending transaction at the biller.
func (h *PurchaseHandlers) AbortTransactionHandler(w http.ResponseWriter, r *http.Request) {
	billerName, siteID, currency, ok := h.parseBillerScope(w, r)
	if !ok {
		return
	}
	transactionID := chi.URLParam(r, "transactionID")

	result, err := h.service.AbortTransaction(r.Context(), siteID, billerName, currency, transactionID)
	if err != nil {
		h.writeServiceError(w, "abort_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RebillTransactionHandler charges a rebill against a prior transaction.
func (h *PurchaseHandlers) RebillTransactionHandler(w http.ResponseWriter, r *http.Request) {
	billerName, siteID, currency, ok := h.parseBillerScope(w, r)
	if !ok {
		return
	}
	transactionID := chi.URLParam(r, "transactionID")

	var payload struct {
		Charge domain.ChargeInformation `json:"charge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.RebillTransaction(r.Context(), siteID, billerName, currency, transactionID, payload.Charge)
	if err != nil {
		h.writeServiceError(w, "rebill_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, buildTransactionView(tx))
}

// BillerCallbackHandler records a server-to-server biller callback (Epoch
// postbacks, Qysso notifications). The raw body is handed to the adapter,
// which validates the biller's signature before anything is trusted.
func (h *PurchaseHandlers) BillerCallbackHandler(w http.ResponseWriter, r *http.Request) {
	billerName, siteID, currency, ok := h.parseBillerScope(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read callback body")
		return
	}

	tx, err := h.service.AddBillerInteraction(r.Context(), siteID, billerName, currency, body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTransactionAlreadyProcessed):
			// Repeated notifications are acknowledged so the biller stops retrying.
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "already_processed"})
		case errors.Is(err, domain.ErrMalformedPayload):
			log.Printf("level=warn component=api endpoint=biller_callback outcome=reject reason=malformed_payload biller=%s err=%v", billerName, err)
			h.writeError(w, http.StatusBadRequest, "Malformed callback payload")
		default:
			h.writeServiceError(w, "biller_callback", err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, buildTransactionView(tx))
}

func (h *PurchaseHandlers) parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "sessionID")
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session ID format")
		return uuid.Nil, false
	}
	return sessionID, true
}

func (h *PurchaseHandlers) parseBillerScope(w http.ResponseWriter, r *http.Request) (domain.BillerName, string, string, bool) {
	billerName, err := domain.ParseBillerName(chi.URLParam(r, "billerName"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Unknown biller")
		return "", "", "", false
	}
	siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
	currency := strings.TrimSpace(r.URL.Query().Get("currency"))
	if siteID == "" || currency == "" {
		h.writeError(w, http.StatusBadRequest, "site_id and currency query parameters are required")
		return "", "", "", false
	}
	return billerName, siteID, currency, true
}

func (h *PurchaseHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case store.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "Purchase session not found")
	case errors.Is(err, domain.ErrInvalidForceCascade):
		h.writeError(w, http.StatusBadRequest, "Invalid force cascade value")
	case errors.Is(err, domain.ErrUnknownBillerName), errors.Is(err, domain.ErrBillerNotSupported):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrMalformedPayload):
		h.writeError(w, http.StatusBadRequest, "Malformed request")
	case errors.Is(err, domain.ErrTransactionDataNotFound):
		h.writeError(w, http.StatusConflict, "No biller transaction to act on")
	case errors.Is(err, domain.ErrUnableToCompleteThreeD):
		h.writeError(w, http.StatusUnprocessableEntity, "Unable to complete 3DS authentication")
	case errors.Is(err, domain.ErrUnableToProcessTransaction):
		h.writeError(w, http.StatusServiceUnavailable, "Biller temporarily unavailable")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PurchaseHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PurchaseHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
