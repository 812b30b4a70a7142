// Package identity owns registration, login and session tokens.
package identity

import (
	"strings"

	"github.com/deciframe-hq/deciframe/pkg/httperr"
)

// personalProviders are consumer mail domains that cannot anchor an
// organization.
var personalProviders = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"live.com":       {},
	"aol.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"msn.com":        {},
	"proton.me":      {},
	"protonmail.com": {},
	"gmx.com":        {},
	"mail.com":       {},
	"zoho.com":       {},
	"yandex.com":     {},
}

// suspiciousFragments flag throwaway and placeholder domains.
var suspiciousFragments = []string{"temp", "test", "example", "fake", "disposable", "mailinator", "trash"}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the domain part, or "" for a malformed address.
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.ContainsAny(domain, " @") {
		return ""
	}
	return domain
}

// ValidateBusinessEmail enforces the business-address policy used at
// registration: well-formed, not a personal provider, not a throwaway
// domain.
func ValidateBusinessEmail(email string) error {
	domain := EmailDomain(email)
	if domain == "" {
		return httperr.NewFieldError("email", "malformed email address")
	}
	if _, ok := personalProviders[domain]; ok {
		return httperr.NewFieldError("email", "personal email providers are not allowed; use your work address")
	}
	for _, frag := range suspiciousFragments {
		if strings.Contains(domain, frag) {
			return httperr.NewFieldError("email", "email domain looks disposable")
		}
	}
	return nil
}
