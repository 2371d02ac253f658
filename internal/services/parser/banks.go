package parser

import (
	"regexp"
	"strings"
)

const amountPattern = `((?:ngn|naira|₦|n)?\s?[\d,]+(?:\.\d{1,2})?)`

// fields is what a bank format pulls out of normalised text before amount
// conversion.
type fields struct {
	amount    string
	account   string
	payer     string
	reference string
}

type bankFormat struct {
	name    string
	domains []string
	extract func(text string) fields
}

func first(text string, rexes ...*regexp.Regexp) string {
	for _, r := range rexes {
		if m := r.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var (
	gtbAmountRex    = regexp.MustCompile(`(?i)amount\s*:?\s*((?:ngn|naira|₦)\s*[\d,]+(?:\.\d{1,2})?)`)
	gtbAccountRex   = regexp.MustCompile(`(?i)account\s*(?:number|no\.?)?\s*:?\s*(\d{6,12})\b`)
	gtbPayerRex     = regexp.MustCompile(`(?i)\bfrom\s*[:=]?\s*([a-z][a-z .'\-=]{2,}?)\s+to\b`)
	gtbTransferRex  = regexp.MustCompile(`(?i)transfer\s+from\s*[:=]?\s*([a-z][a-z .'\-=]{2,}?)(?:\s*-\s*opay|\s+to\b|\s*$)`)
	gtbDescRex      = regexp.MustCompile(`(?i)description\s*:?\s*([^\n]+)`)
	kudaSentRex     = regexp.MustCompile(`(?i)([a-z][a-z .'\-]{2,}?)\s+just\s+sent\s+you\s+` + amountPattern)
	kudaNoticeRex   = regexp.MustCompile(`(?i)^.*transaction\s+notification\s+`)
	kudaRefRex      = regexp.MustCompile(`(?i)\b(?:reference|ref)\s*(?:no\.?|number)?\s*:?\s*([a-z0-9\-/]{4,})`)
	moniAmountRex   = regexp.MustCompile(`(?i)credit\s+amount\s*:?\s*` + amountPattern)
	moniPayerRex    = regexp.MustCompile(`(?i)sender(?:'s)?\s+name\s*:?\s*([^\n]+)`)
	moniAccountRex  = regexp.MustCompile(`(?i)beneficiary\s+account(?:\s+number)?\s*:?\s*(\d{6,12})\b`)
	moniRefRex      = regexp.MustCompile(`(?i)(?:transaction\s+)?reference\s*:?\s*([a-z0-9\-/]{4,})`)
	genAmountRex    = regexp.MustCompile(`(?i)\b(?:amount|amt)\b\s*:?\s*` + amountPattern)
	genAccountRex   = regexp.MustCompile(`(?i)\b(?:acct|account)\s*(?:no\.?|number|#)?\s*:?\s*(\d{6,12})\b`)
	genPayerRex     = regexp.MustCompile(`(?i)\b(?:from|sender|depositor)\s*:\s*([^\n]+)`)
	genReferenceRex = regexp.MustCompile(`(?i)\b(?:remarks?|narration|description)\s*:?\s*([^\n]+)`)
)

var (
	gtbank = bankFormat{
		name:    "gtbank",
		domains: []string{"gtbank.com"},
		extract: func(text string) fields {
			return fields{
				amount:    first(text, gtbAmountRex),
				account:   first(text, gtbAccountRex),
				payer:     first(text, gtbTransferRex, gtbPayerRex),
				reference: first(text, gtbDescRex),
			}
		},
	}

	kuda = bankFormat{
		name:    "kuda",
		domains: []string{"kuda.com", "kudabank.com"},
		extract: func(text string) fields {
			f := fields{
				account:   first(text, genAccountRex),
				reference: first(text, kudaRefRex),
			}
			if m := kudaSentRex.FindStringSubmatch(text); m != nil {
				f.payer = strings.TrimSpace(kudaNoticeRex.ReplaceAllString(m[1], ""))
				f.amount = m[2]
			}
			return f
		},
	}

	moniepoint = bankFormat{
		name:    "moniepoint",
		domains: []string{"moniepoint.com"},
		extract: func(text string) fields {
			return fields{
				amount:    first(text, moniAmountRex),
				account:   first(text, moniAccountRex),
				payer:     first(text, moniPayerRex),
				reference: first(text, moniRefRex),
			}
		},
	}

	generic = bankFormat{
		name: "generic",
		extract: func(text string) fields {
			return fields{
				amount:    first(text, genAmountRex),
				account:   first(text, genAccountRex),
				payer:     first(text, genPayerRex),
				reference: first(text, genReferenceRex),
			}
		},
	}

	formats = []bankFormat{gtbank, kuda, moniepoint, generic}
)

// formatsFor orders the formats to try: the one owning the sender's domain
// first, then the rest in their usual order.
func formatsFor(sender string) []bankFormat {
	domain := sender
	if i := strings.LastIndex(sender, "@"); i >= 0 {
		domain = sender[i+1:]
	}
	domain = strings.ToLower(strings.TrimSpace(domain))

	for i, f := range formats {
		for _, d := range f.domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				ordered := append([]bankFormat{f}, formats[:i]...)
				return append(ordered, formats[i+1:]...)
			}
		}
	}
	return formats
}
