package autofix

import (
	"context"
	"fmt"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
)

// StageError records a single category fixer failure. Fixer failures are
// isolated: one category failing never aborts the others.
type StageError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Outcome is the aggregate result of a repair pass.
type Outcome struct {
	Data    []byte
	Success bool
	Applied map[string]int
	Errors  []StageError
}

// TotalApplied sums repairs across categories.
func (o *Outcome) TotalApplied() int {
	n := 0
	for _, c := range o.Applied {
		n += c
	}
	return n
}

// Engine runs the registered category fixers over a document. Each fixer
// receives only the failing issues of its category and operates on the
// output of the previous successful fixer.
type Engine struct {
	fixers []Fixer
	verify VerifyFunc
	logger *observability.Logger
}

// VerifyFunc checks that a repaired buffer is still a well formed document
// equivalent in page structure to the original.
type VerifyFunc func(original, repaired []byte) error

// NewEngine builds an engine with the default fixer set.
func NewEngine(lang string, logger *observability.Logger) *Engine {
	return &Engine{
		fixers: defaultFixers(lang),
		verify: Verify,
		logger: logger,
	}
}

// NewEngineWithFixers builds an engine over an explicit fixer set, used by
// tests and by callers that restrict repair to a category subset.
func NewEngineWithFixers(fixers []Fixer, verify VerifyFunc, logger *observability.Logger) *Engine {
	if verify == nil {
		verify = func(_, _ []byte) error { return nil }
	}
	return &Engine{fixers: fixers, verify: verify, logger: logger}
}

// Repair applies every eligible fixer to the document. It never returns an
// error for individual category failures; those accumulate in the outcome.
// Success is false only when every category that had failing issues failed,
// in which case Data is the untouched original.
func (e *Engine) Repair(ctx context.Context, data []byte, issues []domain.Issue) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byCategory := make(map[string][]domain.Issue)
	for _, is := range domain.FilterFailing(issues) {
		c := domain.NormalizeCategory(is.Category)
		byCategory[c] = append(byCategory[c], is)
	}

	out := &Outcome{
		Data:    data,
		Success: true,
		Applied: make(map[string]int),
	}
	if len(byCategory) == 0 {
		return out, nil
	}

	current := data
	attempted, failed := 0, 0
	for _, f := range e.fixers {
		group, ok := byCategory[f.Category()]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempted++

		res, err := e.runFixer(ctx, f, current, group)
		if err != nil {
			failed++
			out.Errors = append(out.Errors, StageError{Category: f.Category(), Message: err.Error()})
			e.logger.Warn().Err(err).Str("category", f.Category()).Msg("category fixer failed")
			continue
		}
		if res.Applied > 0 {
			current = res.Data
		}
		out.Applied[f.Category()] = res.Applied
		e.logger.Debug().
			Str("category", f.Category()).
			Int("applied", res.Applied).
			Msg("category fixer done")
	}

	if attempted > 0 && failed == attempted {
		out.Success = false
		out.Data = data
		return out, nil
	}

	if len(out.Applied) > 0 && out.TotalApplied() > 0 {
		if err := e.verify(data, current); err != nil {
			out.Success = false
			out.Data = data
			out.Errors = append(out.Errors, StageError{Category: "verify", Message: err.Error()})
			e.logger.Warn().Err(err).Msg("repaired document failed verification, keeping original")
			return out, nil
		}
	}

	out.Data = current
	return out, nil
}

// runFixer isolates a single fixer invocation, converting panics into
// category errors so one misbehaving fixer cannot take down the run.
func (e *Engine) runFixer(ctx context.Context, f Fixer, data []byte, issues []domain.Issue) (res *FixResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("fixer panic: %v", r)
		}
	}()
	res, err = f.Fix(ctx, data, issues)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("fixer returned no result")
	}
	return res, nil
}
