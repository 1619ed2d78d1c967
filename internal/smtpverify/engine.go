package smtpverify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/logging"
)

const DefaultThreads = 5

// EndpointToucher records that an endpoint was picked for an attempt.
type EndpointToucher interface {
	TouchSMTPEndpoint(ctx context.Context, id string, at time.Time) error
}

// Observer receives one call per finished probe.
type Observer interface {
	ObserveSMTPProbe(host, result string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSMTPProbe(string, string, time.Duration) {}

// Rotator hands out active endpoints round-robin.
type Rotator struct {
	endpoints []*db.SMTPEndpoint
	next      atomic.Uint64
	touch     EndpointToucher
	logger    *zap.Logger
}

func NewRotator(endpoints []*db.SMTPEndpoint, touch EndpointToucher, logger *zap.Logger) (*Rotator, error) {
	active := make([]*db.SMTPEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Active {
			active = append(active, ep)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoActiveEndpoints
	}
	return &Rotator{endpoints: active, touch: touch, logger: logger}, nil
}

func (r *Rotator) Next(ctx context.Context) *db.SMTPEndpoint {
	i := r.next.Add(1) - 1
	ep := r.endpoints[i%uint64(len(r.endpoints))]

	now := time.Now()
	ep.LastUsedAt = &now
	if r.touch != nil {
		if err := r.touch.TouchSMTPEndpoint(ctx, ep.ID, now); err != nil {
			r.logger.Warn("Failed to record smtp endpoint use",
				zap.String("endpoint_id", ep.ID),
				zap.Error(err),
			)
		}
	}
	return ep
}

func (r *Rotator) Len() int {
	return len(r.endpoints)
}

// Threads is the largest thread budget among the active endpoints.
func (r *Rotator) Threads() int {
	threads := 0
	for _, ep := range r.endpoints {
		if ep.ThreadCount > threads {
			threads = ep.ThreadCount
		}
	}
	if threads <= 0 {
		return DefaultThreads
	}
	return threads
}

type Candidate struct {
	RecordID string
	Email    string
}

type Result struct {
	Candidate
	EndpointID string
	Outcome    Outcome
}

type Engine struct {
	prober   Prober
	toucher  EndpointToucher
	observer Observer
	logger   *zap.Logger
	perSec   float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEngine builds the concurrent verifier. ratePerSecond limits probes per
// endpoint; zero means unlimited.
func NewEngine(prober Prober, toucher EndpointToucher, observer Observer, ratePerSecond float64, logger *zap.Logger) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		prober:   prober,
		toucher:  toucher,
		observer: observer,
		logger:   logger,
		perSec:   ratePerSecond,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (e *Engine) limiter(id string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.limiters[id]
	if !ok {
		limit := rate.Inf
		burst := 1
		if e.perSec > 0 {
			limit = rate.Limit(e.perSec)
			burst = int(e.perSec)
			if burst < 1 {
				burst = 1
			}
		}
		l = rate.NewLimiter(limit, burst)
		e.limiters[id] = l
	}
	return l
}

// VerifyAll probes every candidate through a bounded worker pool sized to the
// endpoints' thread budget. Each candidate gets exactly one attempt on one
// endpoint. onResult runs on the calling goroutine in completion order.
func (e *Engine) VerifyAll(ctx context.Context, endpoints []*db.SMTPEndpoint, candidates []Candidate, onResult func(Result)) error {
	rot, err := NewRotator(endpoints, e.toucher, e.logger)
	if err != nil {
		return err
	}
	threads := rot.Threads()

	e.logger.Info("Starting smtp verification",
		zap.Int("candidates", len(candidates)),
		zap.Int("endpoints", rot.Len()),
		zap.Int("threads", threads),
	)

	results := make(chan Result, threads)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	go func() {
		defer close(results)
		for _, c := range candidates {
			if gctx.Err() != nil {
				break
			}
			ep := rot.Next(gctx)
			g.Go(func() error {
				results <- e.probe(gctx, ep, c)
				return nil
			})
		}
		g.Wait()
	}()

	for r := range results {
		onResult(r)
	}
	return ctx.Err()
}

func (e *Engine) probe(ctx context.Context, ep *db.SMTPEndpoint, c Candidate) Result {
	res := Result{Candidate: c, EndpointID: ep.ID}

	if err := e.limiter(ep.ID).Wait(ctx); err != nil {
		res.Outcome = failure(classifyTransport(err), err)
		return res
	}

	start := time.Now()
	res.Outcome = e.prober.Probe(ctx, ep, c.Email)

	label := "valid"
	switch {
	case res.Outcome.Failed():
		label = string(res.Outcome.Failure)
		e.logger.Debug("SMTP probe failed",
			logging.Email(c.Email),
			zap.String("endpoint_id", ep.ID),
			zap.String("failure", label),
			zap.String("detail", res.Outcome.Detail),
		)
	case !res.Outcome.Valid:
		label = "invalid"
	}
	e.observer.ObserveSMTPProbe(ep.Host, label, time.Since(start))

	return res
}
