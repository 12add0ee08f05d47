/**
 * @description
 * Shared response translation for every wire adapter. Each adapter parses its
 * biller's raw payload into a RawResponse and hands it here; this file owns
 * the canonical status mapping, NSF detection, decline classification, and
 * 3DS sub-object copying, so the four adapters never re-implement them.
 */

package biller

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/velora/purchase-service/internal/domain"
)

// RawDecline is the structured decline detail a biller may attach.
type RawDecline struct {
	Group   string
	Type    string
	Message string
	Action  string
}

// RawThreeDS is the 3DS sub-object a biller may attach to a pending or
// lookup response.
type RawThreeDS struct {
	ACSURL              string
	PAReq               string
	Version             string
	DeviceCollectionURL string
	DeviceCollectionJWT string
	StepUpURL           string
	StepUpJWT           string
	MD                  string
	Frictionless        bool
}

// RawResponse is the biller-agnostic shape every adapter reduces its wire
// payload to before canonical translation.
type RawResponse struct {
	TransactionID  string
	Status         string
	Code           string
	Reason         string
	Decline        *RawDecline
	ThreeDS        *RawThreeDS
	RoutingCode    string
	PaymentLinkURL string
}

func parseStatus(raw string) (domain.TransactionStatus, error) {
	switch domain.TransactionStatus(raw) {
	case domain.StatusApproved, domain.StatusDeclined, domain.StatusPending, domain.StatusAborted:
		return domain.TransactionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", domain.ErrInvalidResponse, raw)
}

// TranslateTransaction maps a raw biller response to the canonical
// transaction. Status is taken verbatim from the biller; NSF is flagged only
// for the dedicated insufficient-funds code; 3DS fields are copied only when
// the biller included a 3DS sub-object.
func TranslateTransaction(name domain.BillerName, raw RawResponse) (*domain.Transaction, error) {
	status, err := parseStatus(raw.Status)
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:             uuid.New(),
		Status:         status,
		BillerName:     name,
		Code:           raw.Code,
		NSF:            raw.Code == domain.NSFErrorCode,
		PaymentLinkURL: raw.PaymentLinkURL,
	}
	if raw.TransactionID != "" {
		id := raw.TransactionID
		tx.TransactionID = &id
	}
	if raw.Decline != nil {
		tx.Classification = &domain.ErrorClassification{
			GroupDecline:      raw.Decline.Group,
			ErrorType:         raw.Decline.Type,
			Message:           raw.Decline.Message,
			RecommendedAction: raw.Decline.Action,
		}
	} else if status == domain.StatusDeclined && raw.Reason != "" {
		tx.Classification = &domain.ErrorClassification{Message: raw.Reason}
	}
	if raw.ThreeDS != nil {
		tx.ThreeDS = &domain.ThreeDSInfo{
			ACSURL:                raw.ThreeDS.ACSURL,
			PAReq:                 raw.ThreeDS.PAReq,
			Version:               raw.ThreeDS.Version,
			DeviceCollectionURL:   raw.ThreeDS.DeviceCollectionURL,
			DeviceCollectionJWT:   raw.ThreeDS.DeviceCollectionJWT,
			StepUpURL:             raw.ThreeDS.StepUpURL,
			StepUpJWT:             raw.ThreeDS.StepUpJWT,
			MerchantTransactionID: raw.ThreeDS.MD,
			Frictionless:          raw.ThreeDS.Frictionless,
		}
	}
	if raw.RoutingCode != "" {
		tx.SuccessfulBinRouting = &domain.BinRouting{RoutingCode: raw.RoutingCode}
	}
	return tx, nil
}

// RawRetrieve is the biller-agnostic shape of a full transaction record.
type RawRetrieve struct {
	TransactionID   string
	Status          string
	Amount          int64
	CurrencyCode    string
	CardHash        string
	CardToken       string
	First6          string
	Last4           string
	ExpirationMonth int
	ExpirationYear  int
	MerchantAccount string
	ThreeDS         *RawThreeDS
}

// TranslateRetrieve maps a raw full-transaction payload to the canonical
// retrieve result.
func TranslateRetrieve(name domain.BillerName, raw RawRetrieve) (*domain.RetrieveTransactionResult, error) {
	if raw.TransactionID == "" {
		return nil, fmt.Errorf("%w: retrieve payload missing transaction id", domain.ErrInvalidResponse)
	}
	status, err := parseStatus(raw.Status)
	if err != nil {
		return nil, err
	}
	res := &domain.RetrieveTransactionResult{
		TransactionID:   raw.TransactionID,
		Status:          status,
		BillerName:      name,
		Amount:          raw.Amount,
		CurrencyCode:    raw.CurrencyCode,
		CardHash:        raw.CardHash,
		CardToken:       raw.CardToken,
		First6:          raw.First6,
		Last4:           raw.Last4,
		ExpirationMonth: raw.ExpirationMonth,
		ExpirationYear:  raw.ExpirationYear,
		MerchantAccount: raw.MerchantAccount,
	}
	if raw.ThreeDS != nil {
		res.ThreeDS = &domain.ThreeDSInfo{
			ACSURL:                raw.ThreeDS.ACSURL,
			PAReq:                 raw.ThreeDS.PAReq,
			Version:               raw.ThreeDS.Version,
			MerchantTransactionID: raw.ThreeDS.MD,
			Frictionless:          raw.ThreeDS.Frictionless,
		}
	}
	return res, nil
}

// TranslateAbort maps an abort acknowledgement to the canonical result.
func TranslateAbort(name domain.BillerName, transactionID, rawStatus string) (*domain.AbortResult, error) {
	status, err := parseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	return &domain.AbortResult{
		TransactionID: transactionID,
		Status:        status,
		BillerName:    name,
	}, nil
}
