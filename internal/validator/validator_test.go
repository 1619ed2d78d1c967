package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhossain1509/email-database-manager/internal/classifier"
)

type fakeMX struct {
	domains map[string]bool
	err     error
	calls   int
}

func (f *fakeMX) HasMX(_ context.Context, domain string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.domains[domain], nil
}

func newTestValidator(ignore []string, mx MXChecker) *Validator {
	return New(classifier.New(classifier.DefaultConfig()), NewStaticIgnoreList(ignore), mx)
}

func TestValidateImportPolicy(t *testing.T) {
	v := newTestValidator([]string{"Blocked.com"}, nil)
	ctx := context.Background()

	tests := []struct {
		email  string
		ok     bool
		reason Reason
	}{
		{"user@example.com", true, ""},
		{"user@example.us", true, ""},
		{"user@example.uk", false, ReasonCCTLDPolicy},
		{"user@example.co.uk", false, ReasonCCTLDPolicy},
		{"user@example.gov", false, ReasonPolicySuffix},
		{"user@school.edu", false, ReasonPolicySuffix},
		{"user@blocked.com", false, ReasonIgnoreDomain},
		{"not-an-email", false, ReasonInvalidSyntax},
		{"a..b@example.com", false, ReasonInvalidSyntax},
		{"", false, ReasonInvalidSyntax},
		// Import checks skip role and disposable heuristics.
		{"admin@example.com", true, ""},
		{"someone@mailinator.com", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			out := v.Validate(ctx, tt.email, ImportOptions())
			assert.Equal(t, tt.ok, out.OK)
			assert.Equal(t, tt.reason, out.Reason)
			if !tt.ok {
				assert.NotEmpty(t, out.Detail)
			}
		})
	}
}

func TestValidatePolicySuffixBeforeCCTLD(t *testing.T) {
	v := newTestValidator(nil, nil)

	out := v.Validate(context.Background(), "user@dept.gov", ImportOptions())
	assert.Equal(t, ReasonPolicySuffix, out.Reason)
	assert.Equal(t, "Policy suffix .gov not allowed", out.Detail)
}

func TestValidateEnhanced(t *testing.T) {
	mx := &fakeMX{domains: map[string]bool{"example.com": true}}
	v := newTestValidator(nil, mx)
	ctx := context.Background()

	out := v.Validate(ctx, "someone@mailinator.com", EnhancedOptions(true))
	assert.False(t, out.OK)
	assert.Equal(t, ReasonDisposable, out.Reason)
	assert.True(t, out.Checks.Disposable)
	assert.False(t, out.Checks.RoleChecked)

	out = v.Validate(ctx, "support@example.com", EnhancedOptions(true))
	assert.False(t, out.OK)
	assert.Equal(t, ReasonRoleBased, out.Reason)
	assert.True(t, out.Checks.RoleBased)
	assert.False(t, out.Checks.MXChecked)

	out = v.Validate(ctx, "jane@nomx.net", EnhancedOptions(true))
	assert.False(t, out.OK)
	assert.Equal(t, ReasonNoMX, out.Reason)
	assert.True(t, out.Checks.MXChecked)
	assert.False(t, out.Checks.HasMX)

	out = v.Validate(ctx, "jane@example.com", EnhancedOptions(true))
	require.True(t, out.OK)
	assert.Equal(t, "example.com", out.Domain)
	assert.True(t, out.Checks.SyntaxOK)
	assert.True(t, out.Checks.DisposableChecked)
	assert.True(t, out.Checks.RoleChecked)
	assert.True(t, out.Checks.HasMX)
}

func TestValidateSkipsMXWhenNotRequested(t *testing.T) {
	mx := &fakeMX{}
	v := newTestValidator(nil, mx)

	out := v.Validate(context.Background(), "jane@example.com", EnhancedOptions(false))
	assert.True(t, out.OK)
	assert.Equal(t, 0, mx.calls)
	assert.False(t, out.Checks.MXChecked)
}

func TestValidateMXLookupError(t *testing.T) {
	v := newTestValidator(nil, &fakeMX{err: errors.New("i/o timeout")})

	out := v.Validate(context.Background(), "jane@example.com", EnhancedOptions(true))
	assert.False(t, out.OK)
	assert.Equal(t, ReasonNoMX, out.Reason)
	assert.Contains(t, out.Detail, "i/o timeout")
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("User@Example.COM"))
	assert.Equal(t, "c.com", ExtractDomain("a@b@c.com"))
	assert.Equal(t, "", ExtractDomain("nodomain@"))
	assert.Equal(t, "", ExtractDomain("plain"))
}

func TestSplitDomainList(t *testing.T) {
	got := SplitDomainList("a.com, b.com\nA.com\r\n\n c.com,")
	assert.Equal(t, []string{"a.com", "b.com", "c.com"}, got)
}
