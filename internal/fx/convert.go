package fx

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money is an exact amount in a currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney creates Money from a float amount.
func NewMoney(amount float64, code string) Money {
	return Money{Amount: decimal.NewFromFloat(amount), Currency: NormalizeCode(code)}
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// Band is an amount converted at the low, resolved and high edges of the
// sensitivity range.
type Band struct {
	Low  float64      `json:"low"`
	Mid  float64      `json:"mid"`
	High float64      `json:"high"`
	Rate ExchangeRate `json:"rate"`
}

// unitCacheSize bounds the memo of parsed currency codes.
const unitCacheSize = 64

type unitLookup struct {
	unit currency.Unit
	ok   bool
}

// Converter converts and formats amounts using a Resolver.
type Converter struct {
	resolver *Resolver
	cache    *RateCache
	printer  *message.Printer
	units    *lru.Cache[string, unitLookup]
}

// NewConverter creates a Converter that formats for the given locale.
func NewConverter(cache *RateCache, resolver *Resolver, tag language.Tag) *Converter {
	// lru.New only fails for a non-positive size.
	units, _ := lru.New[string, unitLookup](unitCacheSize)
	return &Converter{
		resolver: resolver,
		cache:    cache,
		printer:  message.NewPrinter(tag),
		units:    units,
	}
}

// ConvertAmount converts amount from one currency to another.
func (c *Converter) ConvertAmount(amount float64, from, to string) (float64, error) {
	rate, err := c.resolver.Resolve(from, to)
	if err != nil {
		return 0, err
	}
	return amount * rate.Rate, nil
}

// ConvertMoney converts m into the target currency.
func (c *Converter) ConvertMoney(m Money, to string) (Money, error) {
	rate, err := c.resolver.Resolve(m.Currency, to)
	if err != nil {
		return Money{}, err
	}
	return Money{
		Amount:   m.Amount.Mul(decimal.NewFromFloat(rate.Rate)),
		Currency: rate.To,
	}, nil
}

// DisplayWithCurrency formats amount in code for the converter's locale.
// Codes the formatter does not know fall back to "<amount> <CODE>" with two
// decimals; formatting never fails. Negative amounts put the sign before the
// symbol ("-£ 3.00").
func (c *Converter) DisplayWithCurrency(amount float64, code string) string {
	code = NormalizeCode(code)
	unit, ok := c.unit(code)
	if !ok {
		return fmt.Sprintf("%.2f %s", amount, code)
	}
	if amount < 0 {
		return "-" + c.printer.Sprint(currency.Symbol(unit.Amount(-amount)))
	}
	return c.printer.Sprint(currency.Symbol(unit.Amount(amount)))
}

// Display converts amount into the display currency and formats it.
func (c *Converter) Display(amount float64, from string) (string, error) {
	to := c.cache.Settings().DisplayCurrency
	converted, err := c.ConvertAmount(amount, from, to)
	if err != nil {
		return "", err
	}
	return c.DisplayWithCurrency(converted, to), nil
}

// SensitivityBand converts amount at the resolved rate and at the rate moved
// down by LowPct and up by HighPct percent.
func (c *Converter) SensitivityBand(amount float64, from, to string) (Band, error) {
	rate, err := c.resolver.Resolve(from, to)
	if err != nil {
		return Band{}, err
	}
	r := c.cache.Settings().SensitivityRange
	return Band{
		Low:  amount * rate.Rate * (1 - r.LowPct/100),
		Mid:  amount * rate.Rate,
		High: amount * rate.Rate * (1 + r.HighPct/100),
		Rate: rate,
	}, nil
}

func (c *Converter) unit(code string) (currency.Unit, bool) {
	if hit, ok := c.units.Get(code); ok {
		return hit.unit, hit.ok
	}
	unit, err := currency.ParseISO(code)
	lookup := unitLookup{unit: unit, ok: err == nil}
	c.units.Add(code, lookup)
	return lookup.unit, lookup.ok
}
