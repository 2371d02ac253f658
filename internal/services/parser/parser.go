// Package parser extracts payment details from bank notification emails.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"email-payment-gateway/internal/models"

	"github.com/shopspring/decimal"
)

type UnparsableEmailError struct {
	Reason string
}

func (e *UnparsableEmailError) Error() string {
	return "unparsable email: " + e.Reason
}

// Extraction is the structured result of parsing one notification.
type Extraction struct {
	Bank               string
	Amount             decimal.Decimal
	AccountNumber      string
	PayerAccountNumber string
	PayerNameFragment  string
	Reference          string
	TransactionDate    string
}

// Map is the mapping stored as a payment's email_data. The amount is written
// as a JSON number with two decimals.
func (x *Extraction) Map() map[string]interface{} {
	m := map[string]interface{}{
		"bank":   x.Bank,
		"amount": json.Number(x.Amount.StringFixed(2)),
	}
	if x.AccountNumber != "" {
		m["account_number"] = x.AccountNumber
	}
	if x.PayerAccountNumber != "" {
		m["payer_account_number"] = x.PayerAccountNumber
	}
	if x.PayerNameFragment != "" {
		m["payer_name"] = x.PayerNameFragment
	}
	if x.Reference != "" {
		m["reference"] = x.Reference
	}
	if x.TransactionDate != "" {
		m["transaction_date"] = x.TransactionDate
	}
	return m
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

var nameNoiseRex = regexp.MustCompile(`\s*=\s*|\s+`)

// Parse reads the amount, receiving account, payer and reference from the
// email. The sender's bank format is tried first, then every other format.
func (p *Parser) Parse(email *models.InboundEmail) (*Extraction, error) {
	text := Normalize(email.TextBody, email.HTMLBody)
	if text == "" {
		return nil, &UnparsableEmailError{Reason: "empty body"}
	}
	if s := strings.TrimSpace(email.Subject); s != "" {
		text = text + "\n" + s
	}

	var lastErr error
	for _, f := range formatsFor(email.FromAddress) {
		got := f.extract(text)
		if got.amount == "" {
			continue
		}
		amount, err := NormalizeAmount(got.amount)
		if err != nil {
			lastErr = err
			continue
		}

		x := &Extraction{
			Bank:              f.name,
			Amount:            amount,
			AccountNumber:     got.account,
			PayerNameFragment: cleanName(got.payer),
			Reference:         got.reference,
		}
		if desc, ok := parseDescriptionField(text); ok {
			if x.AccountNumber == "" {
				x.AccountNumber = desc.AccountNumber
			}
			x.PayerAccountNumber = desc.PayerAccountNumber
			x.TransactionDate = desc.Date
		}
		return x, nil
	}

	if lastErr != nil {
		return nil, &UnparsableEmailError{Reason: fmt.Sprintf("invalid amount: %v", lastErr)}
	}
	return nil, &UnparsableEmailError{Reason: "no amount found"}
}

func cleanName(s string) string {
	s = strings.Trim(nameNoiseRex.ReplaceAllString(s, " "), " -.")
	return strings.ToLower(s)
}
