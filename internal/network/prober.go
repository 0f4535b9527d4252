package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Prober feeds an Observer from periodic HEAD requests against a URL.
// Any HTTP response counts as connected; a 5xx marks the backend unreachable.
type Prober struct {
	observer  *Observer
	url       string
	transport string
	interval  time.Duration
	client    *http.Client
	logger    *zerolog.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewProber(observer *Observer, url, transport string, interval, timeout time.Duration, logger *zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Prober{
		observer:  observer,
		url:       url,
		transport: transport,
		interval:  interval,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start probes once immediately and then on every tick until ctx is done or
// Stop is called.
func (p *Prober) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Info().Str("url", p.url).Dur("interval", p.interval).Msg("Starting network probe")

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.Check(ctx)
		for {
			select {
			case <-ticker.C:
				p.Check(ctx)
			case <-ctx.Done():
				return
			case <-p.stopChan:
				p.logger.Info().Msg("Network probe stopped")
				return
			}
		}
	}()
}

func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

// Check runs a single probe and reports the result.
func (p *Prober) Check(ctx context.Context) Status {
	status := p.probe(ctx)
	p.observer.Report(status)
	return status
}

func (p *Prober) probe(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to build probe request")
		return Status{TransportType: p.transport}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Probe failed")
		return Status{TransportType: p.transport}
	}
	resp.Body.Close()

	return Status{
		IsConnected:   true,
		IsReachable:   Reachable(resp.StatusCode < http.StatusInternalServerError),
		TransportType: p.transport,
	}
}
