package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/jhossain1509/email-database-manager/internal/classifier"
)

// Reason is an admission-reject code. Rejects are values, never errors.
type Reason string

const (
	ReasonInvalidSyntax Reason = "invalid_syntax"
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonIgnoreDomain  Reason = "ignore_domain"
	ReasonPolicySuffix  Reason = "policy_suffix"
	ReasonCCTLDPolicy   Reason = "cctld_policy"
	ReasonDisposable    Reason = "disposable_email"
	ReasonRoleBased     Reason = "role_based"
	ReasonNoMX          Reason = "no_mx_record"
	ReasonDuplicate     Reason = "duplicate"
	ReasonSuppressed    Reason = "suppressed"
)

const (
	maxLocalPart = 64
	maxAddress   = 254
)

type Options struct {
	CheckDisposable bool
	CheckRole       bool
	CheckMX         bool
}

// ImportOptions is the cheap admission filter: no DNS and no role check.
func ImportOptions() Options {
	return Options{}
}

func EnhancedOptions(checkMX bool) Options {
	return Options{CheckDisposable: true, CheckRole: true, CheckMX: checkMX}
}

// Checks records which heuristics ran and what they found. Checks after a
// short-circuit stay unset.
type Checks struct {
	SyntaxOK          bool
	DisposableChecked bool
	Disposable        bool
	RoleChecked       bool
	RoleBased         bool
	MXChecked         bool
	HasMX             bool
}

type Outcome struct {
	OK     bool
	Reason Reason
	Detail string
	Domain string
	Checks Checks
}

func reject(out Outcome, reason Reason, detail string) Outcome {
	out.OK = false
	out.Reason = reason
	out.Detail = detail
	return out
}

type Validator struct {
	classifier *classifier.Classifier
	ignore     IgnoreList
	mx         MXChecker
}

func New(c *classifier.Classifier, ignore IgnoreList, mx MXChecker) *Validator {
	if ignore == nil {
		ignore = NewStaticIgnoreList(nil)
	}
	return &Validator{classifier: c, ignore: ignore, mx: mx}
}

func (v *Validator) Classifier() *classifier.Classifier {
	return v.classifier
}

// WithIgnoreList returns a copy of v using a different ignore list.
func (v *Validator) WithIgnoreList(ignore IgnoreList) *Validator {
	cp := *v
	cp.ignore = ignore
	return &cp
}

// Validate runs the admission checks in order and stops at the first failure.
func (v *Validator) Validate(ctx context.Context, email string, opts Options) Outcome {
	var out Outcome

	email = strings.TrimSpace(email)
	if err := checkSyntax(email); err != nil {
		return reject(out, ReasonInvalidSyntax, err.Error())
	}
	out.Checks.SyntaxOK = true

	domain := ExtractDomain(email)
	if domain == "" {
		return reject(out, ReasonInvalidFormat, "Could not extract domain")
	}
	out.Domain = domain

	if v.ignore.Contains(domain) {
		return reject(out, ReasonIgnoreDomain, fmt.Sprintf("Domain %s is in ignore list", domain))
	}

	if suffix, ok := v.classifier.PolicySuffix(domain); ok {
		return reject(out, ReasonPolicySuffix, fmt.Sprintf("Policy suffix %s not allowed", suffix))
	}

	if tld, blocked := v.classifier.CCTLDBlocked(domain); blocked {
		return reject(out, ReasonCCTLDPolicy, fmt.Sprintf("Non-US ccTLD .%s not allowed", tld))
	}

	if opts.CheckDisposable {
		out.Checks.DisposableChecked = true
		if v.classifier.IsDisposable(domain) {
			out.Checks.Disposable = true
			return reject(out, ReasonDisposable, "Disposable email domain")
		}
	}

	if opts.CheckRole {
		out.Checks.RoleChecked = true
		if v.classifier.IsRoleBased(email) {
			out.Checks.RoleBased = true
			return reject(out, ReasonRoleBased, "Role-based email address")
		}
	}

	if opts.CheckMX && v.mx != nil {
		out.Checks.MXChecked = true
		hasMX, err := v.mx.HasMX(ctx, domain)
		if err != nil {
			return reject(out, ReasonNoMX, fmt.Sprintf("MX lookup failed: %v", err))
		}
		if !hasMX {
			return reject(out, ReasonNoMX, "No MX record found for domain")
		}
		out.Checks.HasMX = true
	}

	out.OK = true
	return out
}

func checkSyntax(email string) error {
	if email == "" {
		return errors.New("the email address is empty")
	}
	if len(email) > maxAddress {
		return fmt.Errorf("the email address is too long (%d characters, limit %d)", len(email), maxAddress)
	}
	if i := strings.LastIndexByte(email, '@'); i > maxLocalPart {
		return fmt.Errorf("the local part is too long (%d characters, limit %d)", i, maxLocalPart)
	}
	if strings.Contains(email, "..") {
		return errors.New("the email address contains consecutive dots")
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return err
	}
	return nil
}

// ExtractDomain splits on the last '@' and lowercases the domain part.
func ExtractDomain(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

// Normalize trims and lowercases a candidate address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
