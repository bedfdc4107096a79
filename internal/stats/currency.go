package stats

import "strings"

// DefaultRONRate is the RON per EUR snapshot rate used when no rate is
// configured.
const DefaultRONRate = 4.9

// Converter normalizes prices into a single reference currency. Rates are
// units of the keyed currency per one unit of Reference.
type Converter struct {
	Reference string
	rates     map[string]float64
}

// NewConverter creates a Converter. Currency codes are matched case
// insensitively; non-positive rates are ignored.
func NewConverter(reference string, rates map[string]float64) *Converter {
	c := &Converter{
		Reference: strings.ToUpper(strings.TrimSpace(reference)),
		rates:     make(map[string]float64, len(rates)),
	}
	for code, r := range rates {
		if r > 0 {
			c.rates[strings.ToUpper(strings.TrimSpace(code))] = r
		}
	}
	return c
}

// DefaultConverter converts RON to EUR at DefaultRONRate.
func DefaultConverter() *Converter {
	return NewConverter("EUR", map[string]float64{"RON": DefaultRONRate})
}

// ToReference converts amount from currency into the reference currency.
// Currencies without a rate, including the reference itself, pass through.
func (c *Converter) ToReference(amount float64, currency string) float64 {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == c.Reference {
		return amount
	}
	if r, ok := c.rates[code]; ok {
		return amount / r
	}
	return amount
}
