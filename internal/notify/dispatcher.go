package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/evidence"
	"github.com/mikeyg42/sentryvision/internal/videoproc"
)

// Config controls retry behavior and message limits.
type Config struct {
	From     string
	FromName string
	To       string

	// MaxRetries is the number of retries after the first attempt
	// (default 3, so 4 primary attempts total).
	MaxRetries int
	// BaseDelay seeds the exponential backoff (base × 2^attempt).
	BaseDelay time.Duration
	// MaxMessageBytes is the transport size cap (default 25 MB).
	MaxMessageBytes int64
	// LinkExpiry for signed evidence URLs (default 24h).
	LinkExpiry time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 25 * 1024 * 1024
	}
	if c.LinkExpiry <= 0 {
		c.LinkExpiry = 24 * time.Hour
	}
}

// Dispatcher delivers alerts through a transport with retry, oversize
// fallback, and a last-resort text-only attempt. It depends on the
// evidence Publisher interface, not on any particular object store.
type Dispatcher struct {
	transport Transport
	publisher evidence.Publisher // may be nil: alerts go out without links
	cfg       Config
	logger    *zap.Logger

	// Metrics
	delivered atomic.Uint64
	fallbacks atomic.Uint64
	failures  atomic.Uint64
}

// NewDispatcher wires the transport and optional evidence publisher.
func NewDispatcher(transport Transport, publisher evidence.Publisher, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		transport: transport,
		publisher: publisher,
		cfg:       cfg,
		logger:    zap.L().Named("notify-dispatcher"),
	}
}

// Deliver composes and sends the alert. evidenceNote explains a missing
// video (e.g. encoder unavailable) and is embedded in the body. The
// returned report is always structured; delivery failure is never an
// error to the caller.
func (d *Dispatcher) Deliver(ctx context.Context, alert Alert, ev *videoproc.EvidenceFile, evidenceNote string) DeliveryReport {
	var link *evidence.Link
	note := evidenceNote

	if ev != nil && d.publisher != nil {
		l, err := d.publisher.Publish(ctx, ev, d.cfg.LinkExpiry)
		if err != nil {
			// The message still goes, annotated with the reason.
			note = "signed link unavailable: " + err.Error()
			d.logger.Warn("evidence link generation failed",
				zap.String("alert_id", alert.Analysis.AlertID),
				zap.Error(err))
		} else {
			link = &l
		}
	}

	msg, err := composeMessage(alert, d.cfg.From, d.cfg.FromName, d.cfg.To, link, note)
	if err != nil {
		d.failures.Add(1)
		return DeliveryReport{
			FinalStatus: StatusFailed,
			LastError:   "compose: " + err.Error(),
		}
	}

	raw, err := BuildMIMEMessage(msg)
	oversize := err == nil && int64(len(raw)) > d.cfg.MaxMessageBytes
	evidenceAttached := link != nil

	report := DeliveryReport{}
	usedFallback := false
	attempt := 0

	op := func() error {
		attempt++
		m := msg
		fb := false
		// Oversize on the first attempt substitutes the text-only
		// fallback; once substituted, retries stay on the fallback.
		if usedFallback || (attempt == 1 && oversize && evidenceAttached) {
			m = fallbackMessage(msg)
			fb = true
			usedFallback = true
		}

		start := time.Now()
		sendErr := d.transport.Send(ctx, m)
		report.Attempts = append(report.Attempts, DeliveryAttempt{
			Attempt:      attempt,
			StartedAt:    start,
			Success:      sendErr == nil,
			Err:          errString(sendErr),
			FallbackUsed: fb,
		})
		if sendErr != nil {
			d.logger.Warn("delivery attempt failed",
				zap.String("alert_id", msg.AlertID),
				zap.Int("attempt", attempt),
				zap.String("kind", string(KindOf(sendErr))),
				zap.Error(sendErr))
		}
		return sendErr
	}

	sendErr := backoff.Retry(op, backoff.WithContext(d.newBackoff(), ctx))

	// Last resort: if every primary attempt failed and the fallback was
	// never tried, make one final text-only attempt.
	if sendErr != nil && !usedFallback {
		attempt++
		usedFallback = true
		start := time.Now()
		sendErr = d.transport.Send(ctx, fallbackMessage(msg))
		report.Attempts = append(report.Attempts, DeliveryAttempt{
			Attempt:      attempt,
			StartedAt:    start,
			Success:      sendErr == nil,
			Err:          errString(sendErr),
			FallbackUsed: true,
		})
	}

	report.TotalAttempts = attempt
	report.FallbackUsed = usedFallback
	report.Success = sendErr == nil
	switch {
	case sendErr == nil && usedFallback:
		report.FinalStatus = StatusDeliveredFallback
		d.delivered.Add(1)
		d.fallbacks.Add(1)
	case sendErr == nil:
		report.FinalStatus = StatusDelivered
		d.delivered.Add(1)
	default:
		report.FinalStatus = StatusFailed
		report.LastError = sendErr.Error()
		d.failures.Add(1)
	}

	d.logger.Info("delivery finished",
		zap.String("alert_id", msg.AlertID),
		zap.String("status", string(report.FinalStatus)),
		zap.Int("attempts", report.TotalAttempts),
		zap.Bool("fallback", report.FallbackUsed))
	return report
}

func (d *Dispatcher) newBackoff() backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = d.cfg.BaseDelay
	ebo.Multiplier = 2
	ebo.RandomizationFactor = 0
	ebo.MaxElapsedTime = 0
	ebo.Reset()
	return backoff.WithMaxRetries(ebo, uint64(d.cfg.MaxRetries))
}

// Metrics returns dispatcher counters.
func (d *Dispatcher) Metrics() map[string]any {
	return map[string]any{
		"delivered": d.delivered.Load(),
		"fallbacks": d.fallbacks.Load(),
		"failures":  d.failures.Load(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
