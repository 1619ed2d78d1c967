package export

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/jhossain1509/email-database-manager/internal/db"
)

var (
	ErrLimitsWithSample = errors.New("domain limits and random sample cannot be combined")
	ErrUnknownBucket    = errors.New("unknown export bucket")
)

type Bucket string

const (
	BucketVerified     Bucket = "verified"
	BucketSMTPVerified Bucket = "smtp-verified"
	BucketUnverified   Bucket = "unverified"
	BucketInvalid      Bucket = "invalid"
	BucketAll          Bucket = "all"
)

// Filter selects the records of one export.
type Filter struct {
	Bucket       Bucket         `json:"bucket"`
	BatchID      string         `json:"batch_id,omitempty"`
	Domains      []string       `json:"domains,omitempty"`
	DomainLimits map[string]int `json:"domain_limits,omitempty"`
	Ratings      []string       `json:"ratings,omitempty"`
	Sample       int            `json:"sample,omitempty"`
}

func (f Filter) Validate() error {
	switch f.Bucket {
	case BucketVerified, BucketSMTPVerified, BucketUnverified, BucketInvalid, BucketAll:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBucket, f.Bucket)
	}
	if len(f.DomainLimits) > 0 && f.Sample > 0 {
		return ErrLimitsWithSample
	}
	if f.Sample < 0 {
		return fmt.Errorf("sample size must not be negative: %d", f.Sample)
	}
	for domain, n := range f.DomainLimits {
		if n < 0 {
			return fmt.Errorf("negative limit for domain %s", domain)
		}
	}
	return nil
}

// Query turns the bucket, batch, domain and rating parts of the filter into
// a store query. Limits and sampling are applied afterwards in memory.
func (f Filter) Query() db.RecordQuery {
	q := db.RecordQuery{
		BatchID:           f.BatchID,
		Domains:           f.Domains,
		Ratings:           f.Ratings,
		ExcludeSuppressed: true,
	}
	switch f.Bucket {
	case BucketVerified:
		q.States = []db.ValidationState{db.StateValid}
	case BucketSMTPVerified:
		q.States = []db.ValidationState{db.StateValid}
		q.Methods = []db.ValidationMethod{db.MethodSMTP}
	case BucketUnverified:
		q.States = []db.ValidationState{db.StateUnvalidated}
	case BucketInvalid:
		q.States = []db.ValidationState{db.StateInvalid}
	}
	return q
}

// Describe renders the filter for download history entries.
func (f Filter) Describe() string {
	parts := []string{"bucket=" + string(f.Bucket)}
	if f.BatchID != "" {
		parts = append(parts, "batch="+f.BatchID)
	}
	if len(f.Domains) > 0 {
		parts = append(parts, "domains="+strings.Join(f.Domains, ","))
	}
	if len(f.DomainLimits) > 0 {
		parts = append(parts, "limits="+FormatDomainLimits(f.DomainLimits))
	}
	if len(f.Ratings) > 0 {
		parts = append(parts, "ratings="+strings.Join(f.Ratings, ","))
	}
	if f.Sample > 0 {
		parts = append(parts, "sample="+strconv.Itoa(f.Sample))
	}
	return strings.Join(parts, " ")
}

// ParseDomainLimits reads "gmail.com:100,yahoo.com:50".
func ParseDomainLimits(raw string) (map[string]int, error) {
	limits := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		domain, count, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid domain limit %q", part)
		}
		domain = strings.ToLower(strings.TrimSpace(domain))
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || domain == "" || n < 0 {
			return nil, fmt.Errorf("invalid domain limit %q", part)
		}
		limits[domain] = n
	}
	return limits, nil
}

func FormatDomainLimits(limits map[string]int) string {
	domains := make([]string, 0, len(limits))
	for d := range limits {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = fmt.Sprintf("%s:%d", d, limits[d])
	}
	return strings.Join(parts, ",")
}

// ApplyLimits keeps at most limits[domain] records per listed domain, in
// input order. Domains absent from limits are dropped.
func ApplyLimits(records []*db.AddressRecord, limits map[string]int) []*db.AddressRecord {
	if len(limits) == 0 {
		return records
	}
	taken := make(map[string]int, len(limits))
	out := make([]*db.AddressRecord, 0, len(records))
	for _, rec := range records {
		domain := strings.ToLower(rec.Domain)
		limit, ok := limits[domain]
		if !ok || taken[domain] >= limit {
			continue
		}
		taken[domain]++
		out = append(out, rec)
	}
	return out
}

// Sample returns n records chosen at random when there are more than n;
// otherwise the input is returned unchanged.
func Sample(records []*db.AddressRecord, n int) []*db.AddressRecord {
	if n <= 0 || len(records) <= n {
		return records
	}
	shuffled := make([]*db.AddressRecord, len(records))
	copy(shuffled, records)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}
