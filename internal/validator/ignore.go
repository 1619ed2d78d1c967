package validator

import "strings"

type IgnoreList interface {
	Contains(domain string) bool
}

// StaticIgnoreList is a case-insensitive domain set loaded once per run.
type StaticIgnoreList map[string]struct{}

func NewStaticIgnoreList(domains []string) StaticIgnoreList {
	set := make(StaticIgnoreList, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

func (s StaticIgnoreList) Contains(domain string) bool {
	_, ok := s[strings.ToLower(domain)]
	return ok
}

// SplitDomainList accepts newline and comma separated input.
func SplitDomainList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
