// Package domain holds the core value objects of the remediation engine:
// documents, accessibility issues, fix outcomes, and the error taxonomy.
package domain

import (
	"fmt"
	"strings"
)

// IssueStatus is the audit status of a single finding.
type IssueStatus string

const (
	StatusFailed           IssueStatus = "failed"
	StatusFailedManually   IssueStatus = "failed_manually"
	StatusNeedsManualCheck IssueStatus = "needs_manual_check"
	StatusPassed           IssueStatus = "passed"
	StatusSkipped          IssueStatus = "skipped"
)

// Fix categories the auto-fix engine knows about. An issue's Category is
// free-form scanner output; these constants are the canonical repair buckets.
const (
	CategoryAltText        = "alt-text"
	CategoryTableHeader    = "table-header"
	CategoryHeadingNesting = "heading-nesting"
	CategoryBookmark       = "bookmark"
	CategoryLanguage       = "language"
	CategoryReadingOrder   = "reading-order"
)

// Location pinpoints a finding inside a document.
type Location struct {
	Page        int    `json:"page"`
	ElementID   string `json:"element_id,omitempty"`
	ElementType string `json:"element_type,omitempty"`
	Locator     string `json:"locator,omitempty"`
}

// Signature returns the location part of an issue's identity. Two issues from
// independent scans refer to the same finding iff rule ID and signature match.
func (l Location) Signature() string {
	return fmt.Sprintf("p%d|%s|%s|%s", l.Page, l.ElementType, l.ElementID, l.Locator)
}

// Issue is a canonical accessibility finding. Issues are value objects:
// freshly constructed per scan and never mutated, except for attaching a
// generated recommendation after repair.
type Issue struct {
	RuleID         string      `json:"rule_id"`
	Category       string      `json:"category"`
	Status         IssueStatus `json:"status"`
	Location       Location    `json:"location"`
	Snippet        string      `json:"snippet,omitempty"`
	Description    string      `json:"description,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
}

// Key returns the issue's full identity.
func (i Issue) Key() string {
	return i.RuleID + "|" + i.Location.Signature()
}

// SameFinding reports whether two issues from different scans refer to the
// same underlying finding.
func (i Issue) SameFinding(other Issue) bool {
	return i.RuleID == other.RuleID && i.Location.Signature() == other.Location.Signature()
}

// Failing reports whether the issue counts as a failure for repair and
// diffing purposes.
func (i Issue) Failing() bool {
	return i.Status == StatusFailed || i.Status == StatusFailedManually
}

// FilterFailing returns the issues with status Failed or FailedManually.
func FilterFailing(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Failing() {
			out = append(out, is)
		}
	}
	return out
}

var canonicalCategories = map[string]string{
	"alttext":          CategoryAltText,
	"alternativetext":  CategoryAltText,
	"tableheader":      CategoryTableHeader,
	"tableheaders":     CategoryTableHeader,
	"headingnesting":   CategoryHeadingNesting,
	"headinglevels":    CategoryHeadingNesting,
	"bookmark":         CategoryBookmark,
	"bookmarks":        CategoryBookmark,
	"language":         CategoryLanguage,
	"documentlanguage": CategoryLanguage,
	"readingorder":     CategoryReadingOrder,
	"taborder":         CategoryReadingOrder,
}

// NormalizeCategory maps scanner variants like "Table Header" and
// "table_headers" onto the canonical repair bucket. Unrecognized categories
// come back lowercased with separators stripped.
func NormalizeCategory(cat string) string {
	s := strings.ToLower(cat)
	s = strings.NewReplacer(" ", "", "-", "", "_", "", "/", "").Replace(s)
	if c, ok := canonicalCategories[s]; ok {
		return c
	}
	return s
}
