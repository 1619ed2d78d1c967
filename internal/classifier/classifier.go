package classifier

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	// Mixed is the category for any domain outside the configured top providers.
	Mixed = "mixed"
	// GoogleValid is the provider-specific subclass for validated Gmail addresses.
	GoogleValid = "Google_Valid"
)

var googleDomains = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
}

type Config struct {
	TopDomains         []string
	BlockedSuffixes    []string
	DisposableDomains  []string
	DisposableKeywords []string
	RolePrefixes       []string
}

func DefaultConfig() Config {
	return Config{
		TopDomains: []string{
			"gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "aol.com",
			"icloud.com", "protonmail.com", "mail.com", "zoho.com", "gmx.com",
		},
		BlockedSuffixes:    []string{".gov", ".edu"},
		DisposableDomains:  defaultDisposableDomains,
		DisposableKeywords: []string{"temp", "trash", "fake", "throwaway", "disposable", "guerrilla"},
		RolePrefixes: []string{
			"admin", "info", "support", "sales", "contact", "help",
			"webmaster", "postmaster", "noreply", "no-reply", "abuse",
		},
	}
}

var defaultDisposableDomains = []string{
	"mailinator.com",
	"tempmail.org",
	"10minutemail.com",
	"guerrillamail.com",
	"yopmail.com",
	"sharklasers.com",
	"getnada.com",
	"dispostable.com",
	"maildrop.cc",
	"mailnesia.com",
	"mintemail.com",
	"spambox.us",
	"trashmail.com",
	"fakeinbox.com",
	"throwawaymail.com",
	"mohmal.com",
	"emailondeck.com",
	"mailcatch.com",
	"moakt.com",
	"tempr.email",
}

// Classifier holds the lookup sets derived from Config. It is safe for
// concurrent use once built.
type Classifier struct {
	top        map[string]struct{}
	suffixes   []string
	disposable map[string]struct{}
	keywords   []string
	roles      []string
}

func New(cfg Config) *Classifier {
	c := &Classifier{
		top:        toSet(cfg.TopDomains),
		disposable: toSet(cfg.DisposableDomains),
	}
	for _, s := range cfg.BlockedSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		c.suffixes = append(c.suffixes, s)
	}
	for _, k := range cfg.DisposableKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	for _, r := range cfg.RolePrefixes {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			c.roles = append(c.roles, r)
		}
	}
	return c
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Classify returns the lowercased domain when it is a configured top
// provider, otherwise Mixed.
func (c *Classifier) Classify(domain string) string {
	domain = normalizeDomain(domain)
	if _, ok := c.top[domain]; ok {
		return domain
	}
	return Mixed
}

// ClassifyWithValidity refines Classify for records whose validity is known.
func (c *Classifier) ClassifyWithValidity(domain string, valid bool) string {
	if valid {
		if _, ok := googleDomains[normalizeDomain(domain)]; ok {
			return GoogleValid
		}
	}
	return c.Classify(domain)
}

func (c *Classifier) IsNamedProvider(category string) bool {
	return category != "" && category != Mixed
}

func (c *Classifier) PolicySuffix(domain string) (string, bool) {
	domain = normalizeDomain(domain)
	for _, s := range c.suffixes {
		if strings.HasSuffix(domain, s) {
			return s, true
		}
	}
	return "", false
}

// CountryCode reports whether domain sits under a country-code TLD according
// to the public suffix list. Lookups that do not resolve to an ICANN-listed
// TLD are reported as generic.
func CountryCode(domain string) (string, bool) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return "", false
	}

	suffix, _ := publicsuffix.PublicSuffix(domain)
	if suffix == "" {
		return "", false
	}

	tld := suffix
	if i := strings.LastIndexByte(suffix, '.'); i >= 0 {
		tld = suffix[i+1:]
	}
	if _, icann := publicsuffix.PublicSuffix(tld); !icann {
		return "", false
	}
	if len(tld) != 2 || !isASCIILetters(tld) {
		return "", false
	}
	return suffix, true
}

// CCTLDBlocked reports a ccTLD other than .us. The returned value is the
// public suffix that matched, e.g. "co.uk".
func (c *Classifier) CCTLDBlocked(domain string) (string, bool) {
	suffix, ok := CountryCode(domain)
	if !ok {
		return "", false
	}
	if suffix == "us" || strings.HasSuffix(suffix, ".us") {
		return suffix, false
	}
	return suffix, true
}

func (c *Classifier) IsDisposable(domain string) bool {
	domain = normalizeDomain(domain)
	if _, ok := c.disposable[domain]; ok {
		return true
	}
	for _, k := range c.keywords {
		if strings.Contains(domain, k) {
			return true
		}
	}
	return false
}

func (c *Classifier) IsRoleBased(email string) bool {
	local := strings.ToLower(email)
	if i := strings.LastIndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	for _, r := range c.roles {
		if strings.HasPrefix(local, r) {
			return true
		}
	}
	return false
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

func isASCIILetters(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 'a' || ch > 'z' {
			return false
		}
	}
	return true
}
