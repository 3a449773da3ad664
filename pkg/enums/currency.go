package enums

// Currency is an ISO-4217 currency code. Amounts are stored in minor units.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyIDR Currency = "IDR"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyIDR:
		return true
	default:
		return false
	}
}
