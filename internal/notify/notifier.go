// Package notify sends operator alerts about opportunities and degraded
// data to chat channels. Alerts are filtered by event type and repeated
// alerts for the same route are suppressed for a TTL.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Event types accepted by the filter.
const (
	EventOpportunity = "opportunity"
	EventDegraded    = "degraded_quotes"
	EventScanFailed  = "scan_failed"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Config tunes which alerts go out.
type Config struct {
	// Events limits delivery to these types. Empty allows all.
	Events []string
	// MinNetProfit is the USD floor for opportunity alerts.
	MinNetProfit float64
	// DedupTTL suppresses repeat alerts for one route or pair.
	DedupTTL time.Duration
}

// Notifier dispatches alerts to every sender.
type Notifier struct {
	senders      []Sender
	events       map[string]bool
	minNetProfit float64
	dedup        *Dedup
	logger       *slog.Logger
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(senders []Sender, cfg Config, clk clock.Clock, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Notifier{
		senders:      senders,
		events:       allowed,
		minNetProfit: cfg.MinNetProfit,
		dedup:        NewDedup(ttl, clk),
		logger:       logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Opportunity alerts on a high-confidence opportunity above the profit
// floor. Opportunities computed on fallback or synthetic quotes are never
// announced as tradeable.
func (n *Notifier) Opportunity(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	if opp.Confidence != domain.ConfidenceHigh || opp.NetProfit < n.minNetProfit {
		return nil
	}
	key := EventOpportunity + ":" + opp.TokenPair + ":" + opp.Network + ":" + opp.Route()
	title := fmt.Sprintf("Arbitrage %s on %s", opp.TokenPair, opp.Network)
	return n.notifyOnce(ctx, key, EventOpportunity, title, FormatOpportunity(opp))
}

// Degraded alerts once per TTL when a pair is being served from fallback
// or synthetic quotes.
func (n *Notifier) Degraded(ctx context.Context, pair string, prov domain.Provenance) error {
	if prov == domain.ProvenanceLive {
		return nil
	}
	msg := fmt.Sprintf("Live quotes unavailable for %s; serving %s data. Opportunities are low confidence.", pair, prov)
	return n.notifyOnce(ctx, EventDegraded+":"+pair+":"+string(prov), EventDegraded, "Degraded quotes", msg)
}

// ScanFailed alerts when a scan fails outright.
func (n *Notifier) ScanFailed(ctx context.Context, pair string, scanErr string) error {
	return n.notifyOnce(ctx, EventScanFailed+":"+pair, EventScanFailed, "Scan failed", fmt.Sprintf("%s: %s", pair, scanErr))
}

// notifyOnce sends unless key was delivered within the TTL. A failed
// delivery releases the key so the next occurrence is sent again.
func (n *Notifier) notifyOnce(ctx context.Context, key, event, title, message string) error {
	if n.dedup.IsDuplicate(key) {
		return nil
	}
	if err := n.Notify(ctx, event, title, message); err != nil {
		n.dedup.Forget(key)
		return err
	}
	return nil
}

// Notify sends to all senders if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
