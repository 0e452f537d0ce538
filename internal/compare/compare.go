// Package compare diffs two accessibility scan reports and derives what a
// repair pass actually changed.
package compare

import (
	"math"
	"strings"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
)

// MatchStrategy decides how a before-issue is attributed in the after-report.
type MatchStrategy int

const (
	// MatchStrict requires the exact (rule, location signature) pair: a
	// before-issue is fixed iff no surviving issue carries the same pair.
	MatchStrict MatchStrategy = iota
	// MatchRelaxed trusts the fixer's own success report over scan-to-scan
	// identity. Structural repairs renumber elements, so the re-scan keeps
	// flagging the old or a relocated position and strict matching would
	// count the repair as still failing. Before-issues in a relaxed category
	// are attributed as fixed, and survivors are absorbed by normalized
	// category substring so they do not read as regressions.
	MatchRelaxed
)

// Report summarizes what changed between the pre-repair and post-repair scans.
type Report struct {
	OriginalTotalChecks   int                      `json:"originalTotalChecks"`
	OriginalFailed        int                      `json:"originalFailed"`
	RemainingTotalChecks  int                      `json:"remainingTotalChecks"`
	Fixed                 []domain.Issue           `json:"fixed"`
	FixesApplied          map[string]int           `json:"fixesApplied,omitempty"`
	Remaining             []domain.Issue           `json:"remaining"`
	Introduced            []domain.Issue           `json:"introduced"`
	ImprovementPercentage int                      `json:"improvementPercentage"`
	ByCategory            map[string]CategoryDelta `json:"byCategory"`
}

// CategoryDelta is the per-category breakdown.
type CategoryDelta struct {
	Before int `json:"before"`
	After  int `json:"after"`
	Fixed  int `json:"fixed"`
}

// Comparer matches issues between two reports. Strategy selection depends on
// which categories the repair pass structurally rewrote, so a comparer is
// built per run.
type Comparer struct {
	strategies map[string]MatchStrategy
	applied    map[string]int
}

// relaxable lists the categories whose fixers are reliable enough that their
// success report is trusted over the re-scan's location identity. Alt-text is
// deliberately absent: figure fixes are frequently partial and only the
// re-scan can say which figures are actually covered.
var relaxable = map[string]bool{
	domain.CategoryTableHeader:    true,
	domain.CategoryHeadingNesting: true,
	domain.CategoryBookmark:       true,
}

// New builds a comparer. applied maps category to the number of repairs the
// fix pass performed in it; a relaxable category gets the relaxed strategy
// only when its fixer actually applied something.
func New(applied map[string]int) *Comparer {
	s := make(map[string]MatchStrategy)
	for cat, n := range applied {
		norm := domain.NormalizeCategory(cat)
		if n > 0 && relaxable[norm] {
			s[norm] = MatchRelaxed
		}
	}
	return &Comparer{strategies: s, applied: applied}
}

func (c *Comparer) strategy(category string) MatchStrategy {
	if s, ok := c.strategies[domain.NormalizeCategory(category)]; ok {
		return s
	}
	return MatchStrict
}

// Compare diffs the failing issues of the pre-repair report against the
// post-repair one. Under the strict strategy an issue counts as fixed when no
// matching failing issue survives; under the relaxed strategy it counts as
// fixed because its fixer reported success. Issues in after matching nothing
// in before are introduced.
func (c *Comparer) Compare(before, after []domain.Issue) *Report {
	beforeFailing := domain.FilterFailing(before)
	afterFailing := domain.FilterFailing(after)

	r := &Report{
		OriginalTotalChecks:  len(before),
		OriginalFailed:       len(beforeFailing),
		RemainingTotalChecks: len(after),
		FixesApplied:         c.applied,
		ByCategory:           make(map[string]CategoryDelta),
	}

	claimed := make([]bool, len(afterFailing))
	for _, b := range beforeFailing {
		cat := domain.NormalizeCategory(b.Category)
		delta := r.ByCategory[cat]
		delta.Before++
		if c.strategy(b.Category) == MatchRelaxed {
			r.Fixed = append(r.Fixed, b)
			delta.Fixed++
			if idx := claimByCategory(cat, afterFailing, claimed); idx >= 0 {
				claimed[idx] = true
			}
		} else if idx := matchStrict(b, afterFailing, claimed); idx >= 0 {
			claimed[idx] = true
			r.Remaining = append(r.Remaining, afterFailing[idx])
		} else {
			r.Fixed = append(r.Fixed, b)
			delta.Fixed++
		}
		r.ByCategory[cat] = delta
	}

	for i, a := range afterFailing {
		cat := domain.NormalizeCategory(a.Category)
		delta := r.ByCategory[cat]
		delta.After++
		r.ByCategory[cat] = delta
		if !claimed[i] {
			r.Introduced = append(r.Introduced, a)
		}
	}

	if r.OriginalFailed > 0 {
		r.ImprovementPercentage = int(math.Round(float64(len(r.Fixed)) / float64(r.OriginalFailed) * 100))
	}
	return r
}

// matchStrict finds the index in after of the unclaimed issue sharing b's
// rule and location signature, or -1. Claimed issues are skipped so two
// identical before-issues cannot both match the same survivor.
func matchStrict(b domain.Issue, after []domain.Issue, claimed []bool) int {
	for i, a := range after {
		if claimed[i] {
			continue
		}
		if b.RuleID == a.RuleID && b.Location.Signature() == a.Location.Signature() {
			return i
		}
	}
	return -1
}

// claimByCategory finds the first unclaimed after-issue whose normalized
// category substring-matches cat, or -1. It absorbs the relocated survivor a
// relaxed-category fixer leaves behind in the re-scan.
func claimByCategory(cat string, after []domain.Issue, claimed []bool) int {
	key := categoryKey(cat)
	for i, a := range after {
		if claimed[i] {
			continue
		}
		aKey := categoryKey(a.Category)
		if strings.Contains(aKey, key) || strings.Contains(key, aKey) {
			return i
		}
	}
	return -1
}

// categoryKey lowercases a category and strips separators so cosmetic naming
// differences between scanner rulesets do not break matching.
func categoryKey(category string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '_', '/':
			return -1
		}
		return r
	}, strings.ToLower(domain.NormalizeCategory(category)))
}
