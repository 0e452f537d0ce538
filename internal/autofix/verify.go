package autofix

import (
	"fmt"
	"regexp"

	"github.com/veridoc-ai/remediation-engine/internal/pdfops"
)

var structMarkers = []*regexp.Regexp{
	regexp.MustCompile(`/StructTreeRoot\b`),
	regexp.MustCompile(`/Marked\s+true\b`),
	regexp.MustCompile(`/S\s*/Figure\b`),
	regexp.MustCompile(`/S\s*/Table\b`),
	regexp.MustCompile(`/S\s*/H\d\b`),
	// Outline items; a repair must never drop bookmarks.
	regexp.MustCompile(`/Title\s*\(`),
}

// Verify confirms a repaired buffer still parses, keeps its page count, keeps
// its tagged ("marked") flag, and has not lost structure elements or
// bookmarks relative to the original.
func Verify(original, repaired []byte) error {
	if err := pdfops.Validate(repaired); err != nil {
		return fmt.Errorf("repaired document does not validate: %w", err)
	}

	origPages, err := pdfops.PageCount(original)
	if err != nil {
		return fmt.Errorf("original page count: %w", err)
	}
	newPages, err := pdfops.PageCount(repaired)
	if err != nil {
		return fmt.Errorf("repaired page count: %w", err)
	}
	if origPages != newPages {
		return fmt.Errorf("page count changed: %d -> %d", origPages, newPages)
	}

	return checkMarkers(original, repaired)
}

func checkMarkers(original, repaired []byte) error {
	for _, re := range structMarkers {
		before := len(re.FindAll(original, -1))
		after := len(re.FindAll(repaired, -1))
		if after < before {
			return fmt.Errorf("structure marker %s count dropped: %d -> %d", re.String(), before, after)
		}
	}
	return nil
}
