package intent

import "strings"

// wmiBrands maps world manufacturer identifier prefixes to a brand. Longer
// prefixes are checked first.
var wmiBrands = map[string]string{
	"JT": "toyota", "4T": "toyota", "5T": "toyota", "2T": "toyota", "MR0": "toyota",
	"JN": "nissan", "1N": "nissan", "3N": "nissan", "5N": "nissan",
	"JH": "honda", "1HG": "honda", "2HG": "honda", "3HG": "honda", "5FN": "honda",
	"1G1": "chevrolet", "3G1": "chevrolet", "KL": "chevrolet", "1GC": "chevrolet",
	"1FA": "ford", "1FT": "ford", "3FA": "ford", "1FM": "ford",
	"WVW": "volkswagen", "3VW": "volkswagen", "WV2": "volkswagen", "9BW": "volkswagen",
	"JM": "mazda", "3MZ": "mazda",
	"KMH": "hyundai", "5NP": "hyundai",
	"KNA": "kia", "KND": "kia", "3KP": "kia",
	"WBA": "bmw", "WBS": "bmw",
	"WDB": "mercedes", "WDD": "mercedes", "W1K": "mercedes",
	"WAU": "audi",
	"1C3": "chrysler", "2C3": "chrysler", "1C4": "jeep", "1J4": "jeep", "1B3": "dodge", "3D7": "dodge",
	"JA": "mitsubishi", "JS": "suzuki", "VF1": "renault", "VF3": "peugeot", "VSS": "seat",
	"ZFA": "fiat", "JF": "subaru", "YV": "volvo",
}

// yearCodes lists VIN model-year characters in cycle order.
const yearCodes = "ABCDEFGHJKLMNPRSTVWXY"

// DecodeVIN returns the brand and model year encoded in a VIN. brand is ""
// when the manufacturer prefix is unknown; ok is false when vin is not a
// well-formed VIN.
func DecodeVIN(vin string) (brand string, year int, ok bool) {
	if !isVIN(vin) {
		return "", 0, false
	}
	vin = strings.ToUpper(vin)

	for _, n := range []int{3, 2} {
		if b, found := wmiBrands[vin[:n]]; found {
			brand = b
			break
		}
	}

	c := vin[9]
	switch {
	case c >= '1' && c <= '9':
		year = 2001 + int(c-'1')
	default:
		if i := strings.IndexByte(yearCodes, c); i >= 0 {
			// A numeric 7th character marks the 1980-2009 cycle.
			if vin[6] >= '0' && vin[6] <= '9' {
				year = 1980 + i
			} else {
				year = 2010 + i
			}
		}
	}
	return brand, year, true
}
