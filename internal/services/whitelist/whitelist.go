// Package whitelist decides whether a notification sender is trusted.
package whitelist

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"email-payment-gateway/internal/models"
)

type UntrustedSenderError struct {
	Sender string
}

func (e *UntrustedSenderError) Error() string {
	return fmt.Sprintf("sender %q is not whitelisted", e.Sender)
}

type Store interface {
	ListActive(ctx context.Context) ([]models.WhitelistedEmail, error)
}

type Filter struct {
	store          Store
	acceptAllEmpty bool
}

func NewFilter(store Store, acceptAllWhenEmpty bool) *Filter {
	return &Filter{store: store, acceptAllEmpty: acceptAllWhenEmpty}
}

// Check returns nil for a trusted sender and *UntrustedSenderError
// otherwise. Any other error comes from the store.
func (f *Filter) Check(ctx context.Context, sender string) error {
	entries, err := f.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}

	addr := Address(sender)
	if addr == "" {
		return &UntrustedSenderError{Sender: sender}
	}
	if len(entries) == 0 {
		if f.acceptAllEmpty {
			return nil
		}
		return &UntrustedSenderError{Sender: addr}
	}

	patterns := make([]string, 0, len(entries))
	for _, e := range entries {
		if p := strings.ToLower(strings.TrimSpace(e.Pattern)); p != "" {
			patterns = append(patterns, p)
		}
	}

	if Matches(addr, patterns) {
		return nil
	}
	return &UntrustedSenderError{Sender: addr}
}

// Matches applies the rules in order: exact address, "@domain" suffix, then
// substring for patterns that are not domains. addr and patterns must
// already be lower case.
func Matches(addr string, patterns []string) bool {
	for _, p := range patterns {
		if addr == p {
			return true
		}
	}
	for _, p := range patterns {
		if strings.HasPrefix(p, "@") && strings.HasSuffix(addr, p) {
			return true
		}
	}
	for _, p := range patterns {
		if !strings.HasPrefix(p, "@") && strings.Contains(addr, p) {
			return true
		}
	}
	return false
}

// Address reduces a header value such as "GTBank <alerts@gtbank.com>" to a
// lower-case address.
func Address(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return ""
	}
	if a, err := mail.ParseAddress(sender); err == nil {
		return strings.ToLower(a.Address)
	}
	if i, j := strings.LastIndex(sender, "<"), strings.LastIndex(sender, ">"); i >= 0 && j > i {
		sender = sender[i+1 : j]
	}
	return strings.ToLower(strings.TrimSpace(sender))
}
