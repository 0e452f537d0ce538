// Package scan wraps the external accessibility-audit collaborator. The
// scanner is stateless: each call audits exactly the bytes it is given, so
// pre- and post-repair scans are independent inputs to the comparison engine.
package scan

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/transport"
)

// Report is the full audit output for one scan.
type Report struct {
	Issues   []domain.Issue    `json:"issues"`
	Summary  Summary           `json:"summary"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary aggregates issue counts by status.
type Summary struct {
	TotalChecks      int `json:"total_checks"`
	Failed           int `json:"failed"`
	FailedManually   int `json:"failed_manually"`
	NeedsManualCheck int `json:"needs_manual_check"`
	Passed           int `json:"passed"`
	Skipped          int `json:"skipped"`
}

// Scanner audits document bytes against the accessibility ruleset.
type Scanner interface {
	Scan(ctx context.Context, data []byte, fileName, fileType string) (*Report, error)
}

// Client is the HTTP implementation of Scanner.
type Client struct {
	api     *transport.Client
	ruleset string
}

// Config holds scanner collaborator settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Ruleset string
}

// NewClient creates a scanner client.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	return &Client{
		api:     transport.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logger),
		ruleset: cfg.Ruleset,
	}
}

type scanRequest struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	Ruleset  string `json:"ruleset"`
	Content  string `json:"content"` // base64
}

// Scan audits the given bytes and returns the canonical issue list.
func (c *Client) Scan(ctx context.Context, data []byte, fileName, fileType string) (*Report, error) {
	req := scanRequest{
		FileName: fileName,
		FileType: fileType,
		Ruleset:  c.ruleset,
		Content:  base64.StdEncoding.EncodeToString(data),
	}

	var report Report
	if err := c.api.PostJSON(ctx, "/v1/scan", req, &report); err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	for i, is := range report.Issues {
		if is.RuleID == "" {
			return nil, fmt.Errorf("scanner returned issue %d without a rule id", i)
		}
	}
	return &report, nil
}

// Summarize recomputes a Summary from an issue list.
func Summarize(issues []domain.Issue) Summary {
	var s Summary
	s.TotalChecks = len(issues)
	for _, is := range issues {
		switch is.Status {
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusFailedManually:
			s.FailedManually++
		case domain.StatusNeedsManualCheck:
			s.NeedsManualCheck++
		case domain.StatusPassed:
			s.Passed++
		case domain.StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
