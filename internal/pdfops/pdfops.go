// Package pdfops wraps the pdfcpu file API for in-memory document buffers.
// pdfcpu's stable surface is file based, so buffers are staged in a temp
// directory for the duration of a call.
package pdfops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConf() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// withTempFile stages data on disk and calls fn with the file path.
func withTempFile(data []byte, fn func(path string) error) error {
	dir, err := os.MkdirTemp("", "remedy-pdf-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write temp pdf: %w", err)
	}
	return fn(path)
}

// PageCount returns the number of pages in the document.
func PageCount(data []byte) (int, error) {
	var count int
	err := withTempFile(data, func(path string) error {
		n, err := api.PageCountFile(path)
		if err != nil {
			return fmt.Errorf("page count: %w", err)
		}
		count = n
		return nil
	})
	return count, err
}

// Validate checks that the buffer is a structurally sound PDF under relaxed
// validation.
func Validate(data []byte) error {
	return withTempFile(data, func(path string) error {
		if err := api.ValidateFile(path, relaxedConf()); err != nil {
			return fmt.Errorf("validate pdf: %w", err)
		}
		return nil
	})
}

// Optimize rewrites the document through pdfcpu's optimizer and returns the
// rewritten buffer. A failed optimize pass is a strong signal the buffer is
// corrupt.
func Optimize(data []byte) ([]byte, error) {
	var out []byte
	err := withTempFile(data, func(path string) error {
		optimized := filepath.Join(filepath.Dir(path), "optimized.pdf")
		if err := api.OptimizeFile(path, optimized, relaxedConf()); err != nil {
			return fmt.Errorf("optimize pdf: %w", err)
		}
		buf, err := os.ReadFile(optimized)
		if err != nil {
			return fmt.Errorf("read optimized pdf: %w", err)
		}
		out = buf
		return nil
	})
	return out, err
}
