// Package tagging wraps the external structure-tagging collaborator. Tagging
// is best-effort enrichment: a failure degrades result quality but never
// blocks the audit and repair stages.
package tagging

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/transport"
)

// Result is the collaborator's enrichment output.
type Result struct {
	Bytes            []byte
	StructureSummary string
}

// Tagger enriches document bytes with structural markup.
type Tagger interface {
	Tag(ctx context.Context, data []byte, fileName string) (*Result, error)
}

// Client is the HTTP implementation of Tagger.
type Client struct {
	api *transport.Client
}

// Config holds tagger collaborator settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a tagger client.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	return &Client{api: transport.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logger)}
}

type tagRequest struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"` // base64
}

type tagResponse struct {
	Success          bool   `json:"success"`
	Content          string `json:"content,omitempty"` // base64
	StructureSummary string `json:"structure_summary,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Tag sends the document for structural enrichment and returns the enriched
// bytes.
func (c *Client) Tag(ctx context.Context, data []byte, fileName string) (*Result, error) {
	req := tagRequest{
		FileName: fileName,
		Content:  base64.StdEncoding.EncodeToString(data),
	}

	var resp tagResponse
	if err := c.api.PostJSON(ctx, "/v1/tag", req, &resp); err != nil {
		return nil, fmt.Errorf("tag request: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("tagger rejected document: %s", resp.Error)
	}

	out, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("decode tagged content: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tagger returned empty document")
	}

	return &Result{Bytes: out, StructureSummary: resp.StructureSummary}, nil
}
