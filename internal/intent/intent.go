// Package intent classifies a normalized customer message into a coarse
// intent and pulls out the vehicle entities it mentions. Classification is
// a fixed, ordered rule table: the first rule that matches wins.
package intent

import (
	"slices"
	"strings"
	"time"
)

// Intent is the coarse classification of a single customer turn.
type Intent string

const (
	SearchProduct     Intent = "search_product"
	PriceInquiry      Intent = "price_inquiry"
	PurchaseIntent    Intent = "purchase_intent"
	InventoryCheck    Intent = "inventory_check"
	VINLookup         Intent = "vin_lookup"
	SupportRequest    Intent = "support_request"
	ShippingInquiry   Intent = "shipping_inquiry"
	GeneralInquiry    Intent = "general_inquiry"
	InventoryFollowup Intent = "inventory_followup"
	// Error is reported by the orchestrator when a turn fails; the
	// extractor never produces it.
	Error Intent = "error"
)

func (i Intent) String() string { return string(i) }

// IsGeneral reports whether i carries no specific request.
func (i Intent) IsGeneral() bool { return i == GeneralInquiry || i == "" }

type rule struct {
	intent Intent
	stems  []string
	match  func(text string, words []string, e Entities) bool
}

// rules is evaluated top to bottom. Order is part of the contract.
var rules = []rule{
	{intent: SearchProduct, stems: []string{"busc", "necesit", "requier", "ocupo", "encontrar", "consigu"}},
	{intent: PriceInquiry, stems: []string{"precio", "cuesta", "cuanto", "cuánto", "costo", "cotiz", "vale"}},
	{intent: PurchaseIntent, stems: []string{"compr", "apart", "pagar", "pago", "orden", "llevo", "factur"}},
	{intent: InventoryCheck, stems: inventoryStems},
	{intent: VINLookup, match: func(text string, words []string, e Entities) bool {
		return e.VIN != "" || slices.Contains(words, "vin") ||
			strings.Contains(text, "numero de serie") || strings.Contains(text, "número de serie")
	}},
	{intent: SupportRequest, stems: []string{"ayuda", "problema", "falla", "garantia", "garantía", "devol", "queja", "reclam", "soporte"}},
	{intent: ShippingInquiry, stems: []string{"envio", "envío", "envia", "envía", "entrega", "paquete", "rastre", "guia", "guía", "paqueteria", "paquetería"}},
}

var inventoryStems = []string{"tienen", "tienes", "hay", "disponib", "existencia", "stock", "inventario", "manejan"}

// Result is the output of Extract.
type Result struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
}

// Extract classifies normalizedText. previousQuery is the last query recorded
// for the conversation (empty on the first turn); if it mentioned inventory
// and nothing more specific matches now, the turn is an inventory follow-up.
// Extract never fails and is deterministic for the same inputs.
func Extract(normalizedText, previousQuery string, now time.Time) Result {
	text := strings.TrimSpace(normalizedText)
	words := strings.Fields(text)
	entities := extractEntities(words, now)

	intent := GeneralInquiry
	for _, r := range rules {
		if hasStem(words, r.stems) || (r.match != nil && r.match(text, words, entities)) {
			intent = r.intent
			break
		}
	}

	if intent == GeneralInquiry && MentionsInventory(previousQuery) {
		intent = InventoryFollowup
	}

	return Result{Intent: intent, Entities: entities}
}

// MentionsInventory reports whether text asks about stock or availability.
func MentionsInventory(text string) bool {
	return hasStem(strings.Fields(strings.ToLower(text)), inventoryStems)
}

// ContainsAny reports whether any word of text starts with one of stems.
func ContainsAny(text string, stems ...string) bool {
	return hasStem(strings.Fields(strings.ToLower(text)), stems)
}

func hasStem(words, stems []string) bool {
	for _, w := range words {
		for _, s := range stems {
			if strings.HasPrefix(w, s) {
				return true
			}
		}
	}
	return false
}
