package webhooks

import (
	"encoding/json"
	"strconv"
	"strings"

	"eduka-backend/internal/models"
)

// LineItem is one purchased product extracted from a gateway payload.
type LineItem struct {
	ProductCode  string `json:"product_code"`
	ProductTitle string `json:"product_title,omitempty"`
}

// NormalizedEvent is the canonical representation of an inbound webhook,
// independent of which gateway delivered it.
type NormalizedEvent struct {
	Platform      string     `json:"platform"`
	EventType     string     `json:"event_type"`
	Approved      bool       `json:"approved"`
	CustomerEmail string     `json:"customer_email"`
	CustomerName  string     `json:"customer_name,omitempty"`
	Amount        float64    `json:"amount"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	PaymentID     string     `json:"payment_id"`
	LineItems     []LineItem `json:"line_items"`
	RawPayload    []byte     `json:"-"`
}

// ProductCodes returns the product codes of all line items, in payload order.
func (e *NormalizedEvent) ProductCodes() []string {
	codes := make([]string, 0, len(e.LineItems))
	for _, item := range e.LineItems {
		codes = append(codes, item.ProductCode)
	}
	return codes
}

// platformRule pairs a structural sniff with the extraction logic for one
// gateway. Rules are tried in a fixed order; their probes are mutually
// exclusive on real payloads, so ordering cannot flip a classification.
type platformRule struct {
	platform string
	matches  func(p map[string]interface{}) bool
	extract  func(p map[string]interface{}) *NormalizedEvent
}

var platformRules = []platformRule{
	{models.PlatformAmploPay, matchAmploPay, extractAmploPay},
	{models.PlatformVega, matchVega, extractVega},
	{models.PlatformGGCheckout, matchGGCheckout, extractGGCheckout},
}

// legacyAmploPayOffers maps historical offerCode values (used before AmploPay
// payloads carried product.id) onto the canonical product codes.
var legacyAmploPayOffers = map[string]string{
	"OFFER-MENSAL":     "amplopay-mensal",
	"OFFER-TRIMESTRAL": "amplopay-trimestral",
	"OFFER-ANUAL":      "amplopay-anual",
	"OFFER-VITALICIO":  "amplopay-vitalicio",
}

// Normalize parses a raw webhook body and maps it to the canonical event
// model. Detection is a total function: payloads that match no gateway come
// back with Platform "unknown" so they can still be logged for forensics.
// A nil result means the body was not valid JSON.
func Normalize(raw []byte) *NormalizedEvent {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	for _, rule := range platformRules {
		if rule.matches(payload) {
			event := rule.extract(payload)
			event.Platform = rule.platform
			event.RawPayload = raw
			return event
		}
	}

	return &NormalizedEvent{
		Platform:   models.PlatformUnknown,
		EventType:  str(payload, "event"),
		RawPayload: raw,
	}
}

// --- Vega ---

func matchVega(p map[string]interface{}) bool {
	_, hasToken := p["transaction_token"]
	_, hasTax := p["checkout_tax_amount"]
	return hasToken && hasTax
}

func extractVega(p map[string]interface{}) *NormalizedEvent {
	customer := child(p, "customer")
	status := str(p, "status")

	event := &NormalizedEvent{
		EventType:     status,
		Approved:      status == "approved",
		CustomerEmail: normalizeEmail(str(customer, "email")),
		CustomerName:  str(customer, "name"),
		PaymentMethod: str(p, "payment_method"),
		PaymentID:     str(p, "transaction_token"),
	}

	// Vega reports integer minor units (centavos).
	if cents, ok := num(p, "total_price"); ok {
		event.Amount = cents / 100
	}

	items := list(p, "products")
	if len(items) == 0 {
		items = list(p, "items")
	}
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		code := str(item, "code")
		if code == "" {
			continue
		}
		event.LineItems = append(event.LineItems, LineItem{
			ProductCode:  code,
			ProductTitle: str(item, "title"),
		})
	}

	return event
}

// --- GGCheckout ---

func matchGGCheckout(p map[string]interface{}) bool {
	event := str(p, "event")
	return strings.HasPrefix(event, "pix.") || strings.HasPrefix(event, "card.")
}

func extractGGCheckout(p map[string]interface{}) *NormalizedEvent {
	customer := child(p, "customer")
	payment := child(p, "payment")
	eventType := str(p, "event")

	event := &NormalizedEvent{
		EventType:     eventType,
		Approved:      eventType == "pix.paid" || eventType == "card.paid",
		CustomerEmail: normalizeEmail(str(customer, "email")),
		CustomerName:  str(customer, "name"),
		PaymentMethod: str(payment, "method"),
		PaymentID:     str(payment, "id"),
	}

	// GGCheckout already sends major units.
	if amount, ok := num(payment, "amount"); ok {
		event.Amount = amount
	}

	for _, raw := range list(p, "products") {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		code := str(item, "id")
		if code == "" {
			continue
		}
		event.LineItems = append(event.LineItems, LineItem{
			ProductCode:  code,
			ProductTitle: str(item, "name"),
		})
	}

	return event
}

// --- AmploPay ---

func matchAmploPay(p map[string]interface{}) bool {
	if str(p, "gateway") != "" || str(p, "source") != "" {
		return true
	}
	return strings.HasPrefix(str(p, "event"), "TRANSACTION_")
}

func extractAmploPay(p map[string]interface{}) *NormalizedEvent {
	// Both client.email and customer.email appear across AmploPay deployments.
	client := child(p, "client")
	if client == nil {
		client = child(p, "customer")
	}
	transaction := child(p, "transaction")
	eventType := str(p, "event")

	event := &NormalizedEvent{
		EventType:     eventType,
		Approved:      eventType == "TRANSACTION_PAID" && str(transaction, "status") == "COMPLETED",
		CustomerEmail: normalizeEmail(str(client, "email")),
		CustomerName:  str(client, "name"),
		PaymentMethod: str(transaction, "payment_method"),
	}
	if event.PaymentMethod == "" {
		event.PaymentMethod = str(p, "paymentMethod")
	}

	event.PaymentID = str(transaction, "id")
	if event.PaymentID == "" {
		event.PaymentID = str(p, "transactionId")
	}
	if event.PaymentID == "" {
		event.PaymentID = str(p, "id")
	}

	if amount, ok := num(transaction, "amount"); ok {
		event.Amount = amount
	} else if amount, ok := num(p, "amount"); ok {
		event.Amount = amount
	}

	if product := child(p, "product"); product != nil {
		if code := str(product, "id"); code != "" {
			event.LineItems = append(event.LineItems, LineItem{
				ProductCode:  code,
				ProductTitle: str(product, "name"),
			})
		}
	}
	if len(event.LineItems) == 0 {
		if offer := str(p, "offerCode"); offer != "" {
			code, ok := legacyAmploPayOffers[offer]
			if !ok {
				code = offer
			}
			event.LineItems = append(event.LineItems, LineItem{ProductCode: code})
		}
	}

	return event
}

// --- payload field helpers ---

func child(p map[string]interface{}, key string) map[string]interface{} {
	if p == nil {
		return nil
	}
	if m, ok := p[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func list(p map[string]interface{}, key string) []interface{} {
	if p == nil {
		return nil
	}
	if l, ok := p[key].([]interface{}); ok {
		return l
	}
	return nil
}

// str returns the value as a string, stringifying JSON numbers so gateways
// that send numeric ids still produce stable identifiers.
func str(p map[string]interface{}, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func num(p map[string]interface{}, key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
