package validate

import "github.com/veridoc-ai/remediation-engine/internal/domain"

// Thresholds are the named constants of the scanned-vs-structured classifier.
type Thresholds struct {
	// MinCharsPerPage: below this average of extractable characters per page
	// the document is considered image-based.
	MinCharsPerPage int
	// LargeFileSize and MaxBytesPerChar: a file at least this big whose
	// byte-to-character ratio exceeds MaxBytesPerChar is considered scanned
	// regardless of the per-page average.
	LargeFileSize   int64
	MaxBytesPerChar int64
}

// Classify decides whether a document is primarily machine-extractable text
// or primarily image-based. Pure function; thresholds are injected so the
// policy is testable in isolation.
func Classify(pageCount, extractedTextLen int, byteSize int64, t Thresholds) domain.Classification {
	pages := pageCount
	if pages < 1 {
		pages = 1
	}

	if extractedTextLen/pages < t.MinCharsPerPage {
		return domain.ClassScanned
	}

	if byteSize >= t.LargeFileSize {
		if extractedTextLen == 0 || byteSize/int64(extractedTextLen) > t.MaxBytesPerChar {
			return domain.ClassScanned
		}
	}

	return domain.ClassStructured
}
