package parser

import (
	"regexp"
)

var (
	descriptionDigitsRex = regexp.MustCompile(`(?i)description\s*:?\s*[^\n]*?(\d{20,})`)
)

// DescriptionField holds what can be read from the long digit run some banks
// put in the transaction description: receiving account, payer account and
// value date, laid out as 10+10+6+8+9 digits.
type DescriptionField struct {
	Raw                string
	AccountNumber      string
	PayerAccountNumber string
	Date               string
}

func parseDescriptionField(text string) (DescriptionField, bool) {
	m := descriptionDigitsRex.FindStringSubmatch(text)
	if m == nil {
		return DescriptionField{}, false
	}
	digits := m[1]
	d := DescriptionField{Raw: digits}

	if len(digits) == 42 {
		digits += "0"
	}
	switch {
	case len(digits) == 43:
		d.AccountNumber = digits[0:10]
		d.PayerAccountNumber = digits[10:20]
		date := digits[26:34]
		d.Date = date[0:4] + "-" + date[4:6] + "-" + date[6:8]
	case len(digits) >= 30:
		d.AccountNumber = digits[0:10]
		d.PayerAccountNumber = digits[10:20]
	default:
		d.AccountNumber = digits[0:10]
	}
	return d, true
}
