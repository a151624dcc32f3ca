package simulation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nvandessel/simdcis/internal/ratelimit"
	"github.com/nvandessel/simdcis/internal/stats"
)

// ProgressSink logs run progress as summaries arrive, at most once per
// interval. The final iteration is always logged.
type ProgressSink struct {
	mu      sync.Mutex
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	total   int
	pop     int
	done    int
	start   time.Time
}

// NewProgressSink returns a sink reporting progress towards total
// iterations of pop individuals.
func NewProgressSink(logger *slog.Logger, total, pop int, interval time.Duration) *ProgressSink {
	return &ProgressSink{
		logger:  logger,
		limiter: ratelimit.Every(interval),
		total:   total,
		pop:     pop,
		start:   time.Now(),
	}
}

// WriteSummary implements SummarySink.
func (p *ProgressSink) WriteSummary(s stats.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if p.done < p.total && !p.limiter.Allow() {
		return nil
	}
	p.logger.Info("progress",
		"iterations", p.done,
		"of", p.total,
		"individuals", humanize.Comma(int64(p.done)*int64(p.pop)),
		"elapsed", time.Since(p.start).Round(time.Second))
	return nil
}

// Done returns the number of summaries received.
func (p *ProgressSink) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
