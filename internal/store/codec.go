/**
 * @description
 * JSON envelope codec for purchase sessions. PaymentInfo is an interface, so
 * items are serialized through an envelope carrying the payment type tag and
 * its raw payload; the rest of the session marshals directly. The stored
 * shape is an opaque snapshot, not a relational purchase model.
 */

package store

import (
	"encoding/json"
	"fmt"

	"github.com/velora/purchase-service/internal/domain"
)

type itemEnvelope struct {
	ItemID       string                   `json:"item_id"`
	SiteID       string                   `json:"site_id"`
	Charge       domain.ChargeInformation `json:"charge"`
	PaymentType  domain.PaymentType       `json:"payment_type,omitempty"`
	Payment      json.RawMessage          `json:"payment,omitempty"`
	Transactions []*domain.Transaction    `json:"transactions,omitempty"`
	IsCrossSale  bool                     `json:"is_cross_sale"`
	NSFSupported bool                     `json:"nsf_supported"`
}

type sessionEnvelope struct {
	SiteID       string             `json:"site_id"`
	CurrencyCode string             `json:"currency_code"`
	BillerName   domain.BillerName  `json:"biller_name"`
	User         domain.UserInfo    `json:"user"`
	MainItem     *itemEnvelope      `json:"main_item"`
	CrossSales   []*itemEnvelope    `json:"cross_sales,omitempty"`
	Advice       domain.FraudAdvice `json:"advice"`
	Site         domain.Site        `json:"site"`
}

func encodeItem(item *domain.InitializedItem) (*itemEnvelope, error) {
	if item == nil {
		return nil, nil
	}
	env := &itemEnvelope{
		ItemID:       item.ItemID.String(),
		SiteID:       item.SiteID,
		Charge:       item.Charge,
		Transactions: item.Transactions,
		IsCrossSale:  item.IsCrossSale,
		NSFSupported: item.NSFSupported,
	}
	if item.Payment != nil {
		raw, err := json.Marshal(item.Payment)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payment info: %w", err)
		}
		env.PaymentType = item.Payment.Type()
		env.Payment = raw
	}
	return env, nil
}

func decodeItem(env *itemEnvelope) (*domain.InitializedItem, error) {
	if env == nil {
		return nil, nil
	}
	item := &domain.InitializedItem{
		SiteID:       env.SiteID,
		Charge:       env.Charge,
		Transactions: env.Transactions,
		IsCrossSale:  env.IsCrossSale,
		NSFSupported: env.NSFSupported,
	}
	if err := item.ItemID.UnmarshalText([]byte(env.ItemID)); err != nil {
		return nil, fmt.Errorf("invalid item id %q: %w", env.ItemID, err)
	}
	if len(env.Payment) > 0 {
		payment, err := decodePayment(env.PaymentType, env.Payment)
		if err != nil {
			return nil, err
		}
		item.Payment = payment
	}
	return item, nil
}

func decodePayment(paymentType domain.PaymentType, raw json.RawMessage) (domain.PaymentInfo, error) {
	return domain.DecodePaymentInfo(paymentType, raw)
}

func encodeSession(session *domain.PurchaseSession) ([]byte, error) {
	main, err := encodeItem(session.MainItem)
	if err != nil {
		return nil, err
	}
	env := sessionEnvelope{
		SiteID:       session.SiteID,
		CurrencyCode: session.CurrencyCode,
		BillerName:   session.BillerName,
		User:         session.User,
		MainItem:     main,
		Advice:       session.Advice,
		Site:         session.Site,
	}
	for _, cs := range session.CrossSales {
		encoded, err := encodeItem(cs)
		if err != nil {
			return nil, err
		}
		env.CrossSales = append(env.CrossSales, encoded)
	}
	return json.Marshal(env)
}

func decodeSession(session *domain.PurchaseSession, payload []byte) error {
	var env sessionEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to decode session payload: %w", err)
	}
	main, err := decodeItem(env.MainItem)
	if err != nil {
		return err
	}
	session.SiteID = env.SiteID
	session.CurrencyCode = env.CurrencyCode
	session.BillerName = env.BillerName
	session.User = env.User
	session.MainItem = main
	session.Advice = env.Advice
	session.Site = env.Site
	for _, cs := range env.CrossSales {
		decoded, err := decodeItem(cs)
		if err != nil {
			return err
		}
		session.CrossSales = append(session.CrossSales, decoded)
	}
	return nil
}
