package intent

import (
	"strconv"
	"strings"
	"time"
)

// Brands is the closed list of vehicle makes recognized in messages.
var Brands = []string{
	"toyota", "nissan", "honda", "chevrolet", "ford", "volkswagen", "mazda",
	"hyundai", "kia", "bmw", "mercedes", "audi", "dodge", "jeep", "chrysler",
	"mitsubishi", "suzuki", "renault", "peugeot", "seat", "fiat", "subaru",
	"gmc", "buick", "cadillac", "lincoln", "volvo", "infiniti", "acura", "lexus",
}

// brandAliases maps common shorthand to a canonical brand.
var brandAliases = map[string]string{
	"vw":    "volkswagen",
	"chevy": "chevrolet",
	"benz":  "mercedes",
	"mb":    "mercedes",
	"volks": "volkswagen",
	"vocho": "volkswagen",
	"nisan": "nissan",
	"toyot": "toyota",
}

const (
	minYear   = 1900
	vinLength = 17
)

// Entities are the typed values extracted from one message.
type Entities struct {
	Brand string `json:"brand,omitempty"`
	Year  int    `json:"year,omitempty"`
	VIN   string `json:"vin,omitempty"`
}

// Field is one extracted entity as a name/value pair.
type Field struct {
	Name  string
	Value string
}

// Fields lists the non-empty entities in a stable order: brand, year, vin.
func (e Entities) Fields() []Field {
	var out []Field
	if e.Brand != "" {
		out = append(out, Field{Name: "brand", Value: e.Brand})
	}
	if e.Year != 0 {
		out = append(out, Field{Name: "year", Value: strconv.Itoa(e.Year)})
	}
	if e.VIN != "" {
		out = append(out, Field{Name: "vin", Value: e.VIN})
	}
	return out
}

// Count returns the number of extracted entities.
func (e Entities) Count() int { return len(e.Fields()) }

// Map returns the entities keyed by name.
func (e Entities) Map() map[string]string {
	m := make(map[string]string, 3)
	for _, f := range e.Fields() {
		m[f.Name] = f.Value
	}
	return m
}

// FindBrand returns the first known brand mentioned in text, or "".
func FindBrand(text string) string {
	return findBrand(strings.Fields(strings.ToLower(text)))
}

func extractEntities(words []string, now time.Time) Entities {
	e := Entities{Brand: findBrand(words)}
	maxYear := now.Year() + 1
	for _, w := range words {
		if e.Year == 0 && len(w) == 4 {
			if y, err := strconv.Atoi(w); err == nil && y >= minYear && y <= maxYear {
				e.Year = y
			}
		}
		if e.VIN == "" && isVIN(w) {
			e.VIN = strings.ToUpper(w)
		}
	}
	return e
}

func findBrand(words []string) string {
	for _, w := range words {
		for _, b := range Brands {
			if w == b {
				return b
			}
		}
		if b, ok := brandAliases[w]; ok {
			return b
		}
	}
	return ""
}

// isVIN matches 17 characters of [A-HJ-NPR-Z0-9] containing at least one
// letter and one digit. I, O and Q never appear in a VIN.
func isVIN(w string) bool {
	if len(w) != vinLength {
		return false
	}
	var letters, digits int
	for _, r := range strings.ToUpper(w) {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'A' && r <= 'Z' && r != 'I' && r != 'O' && r != 'Q':
			letters++
		default:
			return false
		}
	}
	return letters > 0 && digits > 0
}
