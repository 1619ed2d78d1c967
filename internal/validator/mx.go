package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// MXChecker answers whether a domain publishes a usable MX record.
type MXChecker interface {
	HasMX(ctx context.Context, domain string) (bool, error)
}

// DNSResolver queries MX records directly over DNS.
type DNSResolver struct {
	server string
	client *dns.Client
}

func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if server == "" {
		server = "8.8.8.8:53"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := new(dns.Client)
	c.Timeout = timeout
	return &DNSResolver{server: server, client: c}
}

func (r *DNSResolver) HasMX(ctx context.Context, domain string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return false, fmt.Errorf("dns query failed: %w", err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return false, nil
	default:
		return false, fmt.Errorf("dns query failed with code: %s", dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		mx, ok := ans.(*dns.MX)
		if !ok {
			continue
		}
		// RFC 7505 null MX: the domain accepts no mail.
		if mx.Mx == "." {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

// MXCache is the subset of the Redis client used for caching lookups.
type MXCache interface {
	CachedMX(ctx context.Context, domain string) (bool, bool, error)
	CacheMX(ctx context.Context, domain string, hasMX bool, ttl time.Duration) error
}

// CachedMXChecker consults the cache before DNS. Cache errors fall through
// to the resolver.
type CachedMXChecker struct {
	cache  MXCache
	next   MXChecker
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedMXChecker(cache MXCache, next MXChecker, ttl time.Duration, logger *zap.Logger) *CachedMXChecker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedMXChecker{cache: cache, next: next, ttl: ttl, logger: logger}
}

func (c *CachedMXChecker) HasMX(ctx context.Context, domain string) (bool, error) {
	hasMX, found, err := c.cache.CachedMX(ctx, domain)
	if err != nil {
		c.logger.Warn("MX cache read failed", zap.String("domain", domain), zap.Error(err))
	} else if found {
		return hasMX, nil
	}

	hasMX, err = c.next.HasMX(ctx, domain)
	if err != nil {
		return false, err
	}

	if err := c.cache.CacheMX(ctx, domain, hasMX, c.ttl); err != nil {
		c.logger.Warn("MX cache write failed", zap.String("domain", domain), zap.Error(err))
	}
	return hasMX, nil
}
