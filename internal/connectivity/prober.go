package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultProbeInterval is used when no interval is configured.
const DefaultProbeInterval = 15 * time.Second

// Prober observes network reachability by issuing HEAD requests against a
// URL. Any HTTP response counts as online; only transport errors are offline.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	monitor  *Monitor
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a prober that feeds monitor.
func NewProber(url string, interval time.Duration, monitor *Monitor, log *zap.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		monitor:  monitor,
		log:      log,
	}
}

// Probe performs a single reachability check and reports the result to the
// monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.log.Error("build probe request", zap.Error(err))
		p.monitor.SetOnline(false)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.log.Debug("probe failed", zap.String("url", p.url), zap.Error(err))
		p.monitor.SetOnline(false)
		return false
	}
	_ = resp.Body.Close()
	p.monitor.SetOnline(true)
	return true
}

// Start probes immediately and then on every interval until Stop.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.log.Info("connectivity prober started", zap.String("url", p.url), zap.Duration("interval", p.interval))
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Prober) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
