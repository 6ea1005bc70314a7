package orchestrator

import (
	"github.com/refaxbot/refaxbot/internal/intent"
	"github.com/refaxbot/refaxbot/internal/memory"
)

var (
	priceStems   = []string{"barat", "económic", "economic", "oferta", "descuento", "promo", "rebaja"}
	urgencyStems = []string{"urgent", "rápido", "rapido", "ahorita", "inmediat", "hoy"}
)

// learnPreferences scans the raw message for signals worth remembering about
// the customer. It returns key/value pairs for memory.Service.LearnPreference.
func learnPreferences(message string, r intent.Result) map[string]any {
	text := Preprocess(message, nil)
	learned := map[string]any{}

	if intent.ContainsAny(text, priceStems...) {
		learned[memory.PrefPriceConscious] = true
	}
	if intent.ContainsAny(text, urgencyStems...) {
		learned[memory.PrefUrgentCustomer] = true
	}

	brand := r.Entities.Brand
	if brand == "" {
		brand = intent.FindBrand(text)
	}
	if brand != "" {
		learned[memory.PrefPreferredBrand] = brand
	}

	if r.Entities.Brand != "" && r.Entities.Year != 0 {
		learned[memory.PrefVehicleInfo] = memory.VehicleInfo{
			Brand: r.Entities.Brand,
			Year:  r.Entities.Year,
			VIN:   r.Entities.VIN,
		}
	}
	return learned
}
