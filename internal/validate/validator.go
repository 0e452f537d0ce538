// Package validate classifies incoming documents and rejects out-of-bounds
// inputs before any paid work starts.
package validate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/pdfops"
)

var pdfMagic = []byte("%PDF-")

// Config holds validation limits.
type Config struct {
	MaxFileSize int64
	Thresholds  Thresholds
}

// Validator performs pure classification of submitted documents. It has no
// side effects and runs before any credit is reserved.
type Validator struct {
	cfg    Config
	logger *observability.Logger
	// pageCount is injectable for tests that use synthetic buffers.
	pageCount func([]byte) (int, error)
}

// NewValidator creates a Validator.
func NewValidator(cfg Config, logger *observability.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger, pageCount: pdfops.PageCount}
}

// PageCounter reports the number of pages in a raw document buffer.
type PageCounter func([]byte) (int, error)

// NewValidatorWithPageCounter creates a Validator with a custom page counter,
// for callers that work with synthetic buffers.
func NewValidatorWithPageCounter(cfg Config, logger *observability.Logger, pc PageCounter) *Validator {
	return &Validator{cfg: cfg, logger: logger, pageCount: pc}
}

// Validate checks the submitted bytes against the declared type and size
// limits and returns a classified Document. Checks run in order: container
// magic, size ceiling, then page count and the scanned-vs-structured
// heuristic. No page-count ceiling is enforced; large structured documents
// are accepted.
func (v *Validator) Validate(data []byte, fileName, fileType string) (domain.Document, error) {
	if len(data) == 0 {
		return domain.Document{}, domain.InvalidFormatError("document is empty", nil)
	}

	if !isPDFType(fileType, fileName) {
		return domain.Document{}, domain.InvalidFormatError(
			fmt.Sprintf("unsupported file type %q", fileType), nil)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return domain.Document{}, domain.InvalidFormatError(
			fmt.Sprintf("%s declares %s but is not a PDF container", fileName, fileType), nil)
	}

	if int64(len(data)) > v.cfg.MaxFileSize {
		return domain.Document{}, domain.TooLargeError(
			fmt.Sprintf("%s is %d bytes, limit is %d", fileName, len(data), v.cfg.MaxFileSize))
	}

	doc := domain.NewDocument(data, fileName, fileType)

	pages, err := v.pageCount(data)
	if err != nil {
		return domain.Document{}, domain.InvalidFormatError("unreadable page tree", err)
	}
	doc.PageCount = pages

	textLen := extractableTextLen(data)
	doc.Class = Classify(pages, textLen, doc.Size, v.cfg.Thresholds)

	v.logger.Debug().
		Str("file", fileName).
		Int("pages", pages).
		Int("text_len", textLen).
		Str("class", string(doc.Class)).
		Msg("document validated")

	return doc, nil
}

func isPDFType(fileType, fileName string) bool {
	if strings.EqualFold(fileType, "application/pdf") || strings.EqualFold(fileType, "pdf") {
		return true
	}
	return fileType == "" && strings.HasSuffix(strings.ToLower(fileName), ".pdf")
}
