package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	// URL is probed with HEAD requests. Any response, including an error
	// status, counts as reachable; only transport failures count as down.
	URL string

	// Interval between probes. Default: 15s.
	Interval time.Duration

	// Timeout for a single probe. Default: 5s.
	Timeout time.Duration
}

// Prober derives reachability from periodic HTTP probes. It embeds a
// Switch, so it satisfies Monitor and tests can flip it directly.
type Prober struct {
	*Switch
	config ProberConfig
	client *http.Client
	logger *zap.Logger
}

// NewProber creates a Prober. The monitor starts optimistically connected;
// the first failed probe flips it. Call Run to start probing.
func NewProber(config ProberConfig, logger *zap.Logger) *Prober {
	if config.Interval == 0 {
		config.Interval = 15 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	return &Prober{
		Switch: NewSwitch(true),
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Run probes until ctx is cancelled. It always returns ctx.Err().
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.config.URL, nil)
	if err != nil {
		p.logger.Warn("invalid probe url", zap.String("url", p.config.URL), zap.Error(err))
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("probe failed", zap.Error(err))
			p.Set(false)
		}
		return
	}
	_ = resp.Body.Close()
	p.Set(true)
}
