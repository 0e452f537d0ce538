// Package suggest turns unresolved accessibility issues into human
// remediation guidance.
package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/veridoc-ai/remediation-engine/internal/cache"
	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
)

// Suggestion pairs an unresolved issue with generated remediation guidance.
// Recommendation is empty when generation failed for that issue.
type Suggestion struct {
	Issue          domain.Issue `json:"issue"`
	Recommendation string       `json:"recommendation"`
	FromCache      bool         `json:"fromCache"`
}

// CancelCheck is polled between issues so a run cancellation interrupts a
// long suggestion pass promptly.
type CancelCheck func() error

// Sleeper paces backend calls. Tests substitute a manual implementation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config controls a generation pass.
type Config struct {
	MaxPerRun int
	Pacing    time.Duration
	CacheTTL  time.Duration
}

// Generator produces suggestions strictly one at a time, in report order,
// with a fixed pause between backend calls. Issues beyond MaxPerRun are
// returned without a recommendation rather than dropped.
type Generator struct {
	backend Backend
	cache   cache.Client
	cfg     Config
	sleeper Sleeper
	logger  *observability.Logger
}

func NewGenerator(backend Backend, c cache.Client, cfg Config, logger *observability.Logger) *Generator {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &Generator{
		backend: backend,
		cache:   c,
		cfg:     cfg,
		sleeper: realSleeper{},
		logger:  logger,
	}
}

// SetSleeper replaces the pacing clock, for tests.
func (g *Generator) SetSleeper(s Sleeper) { g.sleeper = s }

// Generate walks the unresolved issues sequentially. A backend failure on
// one issue is logged and the walk continues; only cancellation aborts it,
// returning the suggestions produced so far alongside the error.
func (g *Generator) Generate(ctx context.Context, issues []domain.Issue, cancelled CancelCheck) ([]Suggestion, error) {
	if cancelled == nil {
		cancelled = func() error { return nil }
	}

	out := make([]Suggestion, 0, len(issues))
	calls := 0
	for i, is := range issues {
		if err := ctx.Err(); err != nil {
			return out, domain.NewError(domain.CodeCancelled, "suggestion pass interrupted", err)
		}
		if err := cancelled(); err != nil {
			return out, err
		}

		s := Suggestion{Issue: is}
		switch {
		case g.cfg.MaxPerRun > 0 && calls >= g.cfg.MaxPerRun:
			// cap reached, remaining issues pass through unannotated
		default:
			if rec, ok := g.fromCache(ctx, is); ok {
				s.Recommendation = rec
				s.FromCache = true
				break
			}
			if calls > 0 && g.cfg.Pacing > 0 {
				if err := g.sleeper.Sleep(ctx, g.cfg.Pacing); err != nil {
					return out, domain.NewError(domain.CodeCancelled, "suggestion pass interrupted", err)
				}
			}
			calls++
			rec, err := g.backend.Suggest(ctx, is)
			if err != nil {
				g.logger.Warn().Err(err).
					Str("rule", is.RuleID).
					Int("index", i).
					Msg("suggestion generation failed for issue")
				break
			}
			s.Recommendation = rec
			g.toCache(ctx, is, rec)
		}
		out = append(out, s)
	}
	return out, nil
}

// cacheKey is stable across runs for the same rule and issue content, so
// re-uploads of an unchanged document reuse earlier guidance.
func cacheKey(is domain.Issue) string {
	h := sha256.Sum256([]byte(is.RuleID + "\x00" + is.Description + "\x00" + is.Snippet + "\x00" + is.Location.Signature()))
	return "suggestion:" + is.RuleID + ":" + hex.EncodeToString(h[:8])
}

func (g *Generator) fromCache(ctx context.Context, is domain.Issue) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	v, err := g.cache.Get(ctx, cacheKey(is))
	if err != nil {
		return "", false
	}
	return string(v), len(v) > 0
}

func (g *Generator) toCache(ctx context.Context, is domain.Issue, rec string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(is), []byte(rec), g.cfg.CacheTTL); err != nil {
		g.logger.Debug().Err(err).Msg("suggestion cache write failed")
	}
}
