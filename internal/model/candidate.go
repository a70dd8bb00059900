package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind identifies which importer produced a candidate record.
type SourceKind string

// Source kinds. The set is closed; every switch over SourceKind must be exhaustive.
const (
	KindRetailOrder         SourceKind = "retail_order"
	KindRetailOrderBusiness SourceKind = "retail_order_business"
	KindAppPurchase         SourceKind = "app_purchase"
	KindReceiptEmail        SourceKind = "receipt_email"
	KindManual              SourceKind = "manual"
)

// AllSourceKinds lists every kind in a stable order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{
		KindRetailOrder,
		KindRetailOrderBusiness,
		KindAppPurchase,
		KindReceiptEmail,
		KindManual,
	}
}

// ParseSourceKind validates a kind name.
func ParseSourceKind(s string) (SourceKind, error) {
	kind := SourceKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown source kind %q", s)
	}
	return kind, nil
}

// Valid reports whether k is a member of the closed kind set.
func (k SourceKind) Valid() bool {
	switch k {
	case KindRetailOrder, KindRetailOrderBusiness, KindAppPurchase, KindReceiptEmail, KindManual:
		return true
	default:
		return false
	}
}

// CandidatePayload is the kind-specific part of a candidate record.
// Implementations are limited to the payload types in this package.
type CandidatePayload interface {
	isCandidatePayload()
}

// LineItem is a single product line of an order.
type LineItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// RetailOrderPayload carries order details for both retail kinds.
type RetailOrderPayload struct {
	Merchant    string     `json:"merchant"`
	OrderStatus string     `json:"order_status"`
	Items       []LineItem `json:"items"`
}

// AppPurchasePayload carries app-store purchase details.
type AppPurchasePayload struct {
	Store   string `json:"store"`
	AppName string `json:"app_name"`
	Genre   string `json:"genre"`
}

// ReceiptEmailPayload carries the envelope of a parsed receipt email.
type ReceiptEmailPayload struct {
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	MessageID string `json:"message_id"`
}

// ManualPayload carries a user-entered record.
type ManualPayload struct {
	Category string `json:"category"`
	Note     string `json:"note"`
}

func (RetailOrderPayload) isCandidatePayload()  {}
func (AppPurchasePayload) isCandidatePayload()  {}
func (ReceiptEmailPayload) isCandidatePayload() {}
func (ManualPayload) isCandidatePayload()       {}

// CandidateRecord is a normalized external record eligible for matching.
type CandidateRecord struct {
	Date            time.Time
	Payload         CandidatePayload
	Kind            SourceKind
	ExternalID      string
	Description     string
	ConsumedByMatch string
	Amount          decimal.Decimal
}

// Validate checks that the payload type agrees with the kind.
func (c CandidateRecord) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown source kind %q", c.Kind)
	}
	if strings.TrimSpace(c.ExternalID) == "" {
		return fmt.Errorf("candidate missing external id")
	}
	if c.Date.IsZero() {
		return fmt.Errorf("candidate %s missing date", c.ExternalID)
	}
	if c.Payload == nil {
		return nil
	}
	ok := false
	switch c.Kind {
	case KindRetailOrder, KindRetailOrderBusiness:
		_, ok = c.Payload.(RetailOrderPayload)
	case KindAppPurchase:
		_, ok = c.Payload.(AppPurchasePayload)
	case KindReceiptEmail:
		_, ok = c.Payload.(ReceiptEmailPayload)
	case KindManual:
		_, ok = c.Payload.(ManualPayload)
	}
	if !ok {
		return fmt.Errorf("candidate %s: payload %T does not match kind %s", c.ExternalID, c.Payload, c.Kind)
	}
	return nil
}

// MerchantHints returns words that identify who was paid, used for text scoring.
func (c CandidateRecord) MerchantHints() []string {
	switch c.Kind {
	case KindRetailOrder, KindRetailOrderBusiness:
		hints := []string{"amazon", "amzn", "mktplace", "marketplace"}
		if p, ok := c.Payload.(RetailOrderPayload); ok && p.Merchant != "" {
			hints = append(hints, p.Merchant)
		}
		return hints
	case KindAppPurchase:
		hints := []string{"apple", "itunes", "app", "store"}
		if p, ok := c.Payload.(AppPurchasePayload); ok {
			hints = append(hints, p.Store, p.AppName)
		}
		return hints
	case KindReceiptEmail:
		if p, ok := c.Payload.(ReceiptEmailPayload); ok {
			return []string{senderName(p.Sender)}
		}
		return nil
	case KindManual:
		return nil
	}
	return nil
}

// CategoryHint returns a category carried by the source itself, if any.
func (c CandidateRecord) CategoryHint() string {
	switch c.Kind {
	case KindAppPurchase:
		if p, ok := c.Payload.(AppPurchasePayload); ok {
			return p.Genre
		}
	case KindManual:
		if p, ok := c.Payload.(ManualPayload); ok {
			return p.Category
		}
	case KindRetailOrder, KindRetailOrderBusiness, KindReceiptEmail:
	}
	return ""
}

// senderName reduces "Store <orders@shop.example.com>" to "shop".
func senderName(sender string) string {
	addr := sender
	if i := strings.LastIndex(sender, "<"); i >= 0 {
		addr = strings.TrimSuffix(sender[i+1:], ">")
	}
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		addr = addr[at+1:]
	}
	parts := strings.Split(addr, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return addr
}

// MarshalPayload encodes a payload for storage.
func MarshalPayload(p CandidatePayload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes a stored payload according to its kind.
func UnmarshalPayload(kind SourceKind, data []byte) (CandidatePayload, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	switch kind {
	case KindRetailOrder, KindRetailOrderBusiness:
		var p RetailOrderPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindAppPurchase:
		var p AppPurchasePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindReceiptEmail:
		var p ReceiptEmailPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindManual:
		var p ManualPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", kind)
}
