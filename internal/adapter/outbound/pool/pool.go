// Package pool implements the Connection Pool: up to maxConnections
// keep-alive channels to a single registry origin, serialized through an
// internal queue, with retirement on request count or idle timeout.
//
// The real socket-level keep-alive is delegated to net/http's Transport
// (MaxIdleConnsPerHost), exactly as the teacher's HTTPClient
// (internal/adapter/outbound/mcp/http_client.go) configures its
// *http.Client. This package layers the spec's logical "channel" —
// acquire/reuse/retire/queue accounting — on top of that shared client,
// since net/http gives no hook to observe or bound logical channel reuse
// itself.
package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decisiongrid/rulecore/internal/rerr"
)

// Config tunes the pool.
type Config struct {
	BaseURL        string
	DefaultHeaders http.Header

	MaxConnections           int
	MaxRequestsPerConnection int // 0 = unlimited
	KeepAliveTimeout         time.Duration

	QueueTimeout   time.Duration
	RequestTimeout time.Duration

	MaxRetries     int
	RetryDelay     time.Duration
	RetryOnTimeout bool
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 90 * time.Second
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	return c
}

// Request is the pool's public request contract.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is what Request returns on success.
type Response struct {
	Status       int
	Headers      http.Header
	Body         []byte
	ResponseTime time.Duration
}

// channel is one logical keep-alive slot: how many requests it has served
// and when it was last used, for retirement accounting.
type channel struct {
	requests int
	lastUsed time.Time
}

// Stats is the pool's exposed statistics surface.
type Stats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
	CompletedRequests uint64
	FailedRequests    uint64
	ReuseCount        uint64
	QueueDepth        int32
	AvgResponseTimeMs float64
}

// Pool maintains bounded keep-alive channels to one origin.
type Pool struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	idle   []*channel
	minted int
	closed bool
	stop   chan struct{}

	completed       atomic.Uint64
	failed          atomic.Uint64
	reused          atomic.Uint64
	queueDepth      atomic.Int32
	totalRespTimeNs atomic.Int64
	totalResponses  atomic.Int64
}

// New creates a Pool backed by a shared *http.Client whose transport caps
// idle connections per host at MaxConnections.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:  cfg,
		stop: make(chan struct{}),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.MaxConnections,
				MaxConnsPerHost:     cfg.MaxConnections,
				IdleConnTimeout:     cfg.KeepAliveTimeout,
			},
		},
	}
	go p.janitor()
	return p
}

// Request performs one HTTP round trip, acquiring a channel (reusing an
// idle one, minting a new one up to the cap, or queueing), applying the
// request timeout, and retrying transient failures per cfg.
func (p *Pool) Request(ctx context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, rerr.ErrPoolClosed
	}
	p.mu.Unlock()

	ch, fresh, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !fresh {
		p.reused.Add(1)
	}
	defer p.release(ch)

	headers := mergeHeaders(p.cfg.DefaultHeaders, req.Headers)

	reqTimeout := req.Timeout
	if reqTimeout <= 0 {
		reqTimeout = p.cfg.RequestTimeout
	}

	var resp *Response
	var lastErr error
	attempts := p.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, rerr.New(rerr.KindTimeout, ctx.Err())
			}
		}

		resp, lastErr = p.roundTrip(ctx, req, headers, reqTimeout)
		if lastErr == nil {
			p.completed.Add(1)
			ch.requests++
			ch.lastUsed = time.Now()
			return resp, nil
		}

		kind, isCore := rerr.Of(lastErr)
		retryable := isCore && kind.Recoverable()
		if isCore && kind == rerr.KindTimeout && !p.cfg.RetryOnTimeout {
			retryable = false
		}
		if !retryable {
			break
		}
	}

	p.failed.Add(1)
	ch.requests++
	ch.lastUsed = time.Now()
	return nil, lastErr
}

func (p *Pool) roundTrip(ctx context.Context, req Request, headers http.Header, timeout time.Duration) (*Response, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(rctx, req.Method, p.cfg.BaseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, rerr.New(rerr.KindNetwork, err)
	}
	httpReq.Header = headers

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		if rctx.Err() != nil {
			return nil, rerr.New(rerr.KindTimeout, err)
		}
		return nil, rerr.New(rerr.KindNetwork, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, rerr.New(rerr.KindNetwork, err)
	}

	p.totalRespTimeNs.Add(elapsed.Nanoseconds())
	p.totalResponses.Add(1)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, rerr.HTTPError(httpResp.StatusCode, fmt.Errorf("%s", string(body)))
	}

	return &Response{
		Status:       httpResp.StatusCode,
		Headers:      httpResp.Header,
		Body:         body,
		ResponseTime: elapsed,
	}, nil
}

// acquire reuses an idle channel, mints a fresh one under the cap, or
// queues until one is released or QueueTimeout elapses.
func (p *Pool) acquire(ctx context.Context) (*channel, bool, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		ch := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ch, false, nil
	}
	if p.minted < p.cfg.MaxConnections {
		p.minted++
		p.mu.Unlock()
		return &channel{}, true, nil
	}
	p.mu.Unlock()

	p.queueDepth.Add(1)
	defer p.queueDepth.Add(-1)

	deadline := time.NewTimer(p.cfg.QueueTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, rerr.New(rerr.KindTimeout, ctx.Err())
		case <-deadline.C:
			return nil, false, rerr.ErrPoolExhausted
		case <-poll.C:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil, false, rerr.ErrPoolClosed
			}
			if n := len(p.idle); n > 0 {
				ch := p.idle[n-1]
				p.idle = p.idle[:n-1]
				p.mu.Unlock()
				return ch, false, nil
			}
			p.mu.Unlock()
		}
	}
}

// release returns ch to the idle pool, or retires it (freeing a mint slot)
// once it has served MaxRequestsPerConnection requests.
func (p *Pool) release(ch *channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.cfg.MaxRequestsPerConnection > 0 && ch.requests >= p.cfg.MaxRequestsPerConnection {
		p.minted--
		return
	}
	ch.lastUsed = time.Now()
	p.idle = append(p.idle, ch)
}

// janitor retires idle channels that have exceeded KeepAliveTimeout.
func (p *Pool) janitor() {
	ticker := time.NewTicker(p.cfg.KeepAliveTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	kept := p.idle[:0]
	for _, ch := range p.idle {
		if now.Sub(ch.lastUsed) > p.cfg.KeepAliveTimeout {
			p.minted--
			continue
		}
		kept = append(kept, ch)
	}
	p.idle = kept
}

// Close refuses new requests, releases the janitor, and closes idle
// sockets. Requests already in flight are allowed to finish (or are
// cancelled by their own timeout).
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.idle = nil
	p.mu.Unlock()

	close(p.stop)
	p.client.CloseIdleConnections()
	return nil
}

// Stats returns a snapshot of pool statistics. All counters are read
// without locking (monotonic atomics), per the shared-resource policy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	total := p.minted
	idleN := len(p.idle)
	p.mu.Unlock()

	var avg float64
	if n := p.totalResponses.Load(); n > 0 {
		avg = float64(p.totalRespTimeNs.Load()) / float64(n) / float64(time.Millisecond)
	}

	return Stats{
		TotalConnections:  total,
		ActiveConnections: total - idleN,
		IdleConnections:   idleN,
		CompletedRequests: p.completed.Load(),
		FailedRequests:    p.failed.Load(),
		ReuseCount:        p.reused.Load(),
		QueueDepth:        p.queueDepth.Load(),
		AvgResponseTimeMs: avg,
	}
}

func mergeHeaders(base, overrides http.Header) http.Header {
	merged := make(http.Header, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range overrides {
		merged[k] = append([]string(nil), v...)
	}
	return merged
}
