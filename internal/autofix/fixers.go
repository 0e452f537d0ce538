package autofix

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
)

// FixResult is one category fixer's output.
type FixResult struct {
	Data    []byte
	Applied int
}

// Fixer repairs one issue category. A fixer only ever sees the failing
// issues of its own category.
type Fixer interface {
	Category() string
	Fix(ctx context.Context, data []byte, issues []domain.Issue) (*FixResult, error)
}

var (
	catalogRe  = regexp.MustCompile(`/Type\s*/Catalog`)
	pageObjRe  = regexp.MustCompile(`/Type\s*/Page[^s]`)
	headingsRe = regexp.MustCompile(`/S\s*/H1\b`)
	titleRe    = regexp.MustCompile(`/T\s*\(((?:\\.|[^\\()])*)\)`)
)

func elementRe(elementID string) *regexp.Regexp {
	return regexp.MustCompile(`/ID\s*\(` + regexp.QuoteMeta(elementID) + `\)`)
}

// languageFixer sets the document language on the catalog when absent.
type languageFixer struct {
	lang string
}

func (f *languageFixer) Category() string { return domain.CategoryLanguage }

func (f *languageFixer) Fix(_ context.Context, data []byte, _ []domain.Issue) (*FixResult, error) {
	p, err := newPatch(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	num, body, ok := p.find(catalogRe)
	if !ok {
		return nil, fmt.Errorf("no document catalog")
	}

	lang := f.lang
	if lang == "" {
		lang = "en-US"
	}
	patched, changed := setDictEntry(body, "/Lang", "("+lang+")")
	if !changed {
		return &FixResult{Data: data, Applied: 0}, nil
	}
	p.replace(num, patched)
	return &FixResult{Data: p.bytes(), Applied: 1}, nil
}

// bookmarkFixer derives a document outline from top-level heading structure
// elements when the catalog has none.
type bookmarkFixer struct{}

func (f *bookmarkFixer) Category() string { return domain.CategoryBookmark }

func (f *bookmarkFixer) Fix(_ context.Context, data []byte, issues []domain.Issue) (*FixResult, error) {
	p, err := newPatch(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	catNum, catBody, ok := p.find(catalogRe)
	if !ok {
		return nil, fmt.Errorf("no document catalog")
	}
	if strings.Contains(string(catBody), "/Outlines") {
		return &FixResult{Data: data, Applied: 0}, nil
	}

	pages := p.findAll(pageObjRe)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page objects")
	}

	headings := p.findAll(headingsRe)
	if len(headings) == 0 {
		return nil, fmt.Errorf("no headings to derive an outline from")
	}

	// Page hints come from the issues when the scanner localized them.
	pageHint := make(map[int]int) // heading index -> page number
	for i, is := range issues {
		if is.Location.Page > 0 && i < len(headings) {
			pageHint[i] = is.Location.Page
		}
	}

	outlinesNum := p.add(nil) // placeholder, body set below
	itemNums := make([]int, len(headings))
	for i := range headings {
		itemNums[i] = p.nextNum + i
	}
	p.nextNum += len(headings)

	for i, h := range headings {
		title := fmt.Sprintf("Section %d", i+1)
		if m := titleRe.FindSubmatch(h.body); m != nil {
			title = string(m[1])
		}
		pageIdx := 0
		if pg, ok := pageHint[i]; ok && pg-1 < len(pages) {
			pageIdx = pg - 1
		}
		item := fmt.Sprintf("<< /Title (%s) /Parent %d 0 R /Dest [%d 0 R /Fit]",
			escapeLiteral(title), outlinesNum, pages[pageIdx].num)
		if i > 0 {
			item += fmt.Sprintf(" /Prev %d 0 R", itemNums[i-1])
		}
		if i < len(headings)-1 {
			item += fmt.Sprintf(" /Next %d 0 R", itemNums[i+1])
		}
		item += " >>"
		p.appended = append(p.appended, patchObject{num: itemNums[i], body: []byte(item)})
	}

	outlines := fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>",
		itemNums[0], itemNums[len(itemNums)-1], len(itemNums))
	p.appended[0] = patchObject{num: outlinesNum, body: []byte(outlines)}

	patched, _ := setDictEntry(catBody, "/Outlines", fmt.Sprintf("%d 0 R", outlinesNum))
	p.replace(catNum, patched)

	return &FixResult{Data: p.bytes(), Applied: len(headings)}, nil
}

// headingNestingFixer renumbers heading structure elements whose level skips
// the hierarchy. The scanner encodes the correction in the issue locator as
// "h:<found>-><want>".
type headingNestingFixer struct{}

func (f *headingNestingFixer) Category() string { return domain.CategoryHeadingNesting }

var headingLocatorRe = regexp.MustCompile(`h:(\d)->(\d)`)

func (f *headingNestingFixer) Fix(_ context.Context, data []byte, issues []domain.Issue) (*FixResult, error) {
	p, err := newPatch(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	applied := 0
	for _, is := range issues {
		m := headingLocatorRe.FindStringSubmatch(is.Location.Locator)
		if m == nil || is.Location.ElementID == "" {
			continue
		}
		num, body, ok := p.find(elementRe(is.Location.ElementID))
		if !ok {
			continue
		}
		tagRe := regexp.MustCompile(`/S\s*/H` + m[1] + `\b`)
		if !tagRe.Match(body) {
			continue
		}
		p.replace(num, tagRe.ReplaceAll(body, []byte("/S /H"+m[2])))
		applied++
	}

	if applied == 0 {
		return &FixResult{Data: data, Applied: 0}, nil
	}
	return &FixResult{Data: p.bytes(), Applied: applied}, nil
}

// tableHeaderFixer promotes the cells of a flagged header row from TD to TH.
type tableHeaderFixer struct{}

func (f *tableHeaderFixer) Category() string { return domain.CategoryTableHeader }

var tdTagRe = regexp.MustCompile(`/S\s*/TD\b`)

func (f *tableHeaderFixer) Fix(_ context.Context, data []byte, issues []domain.Issue) (*FixResult, error) {
	p, err := newPatch(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	applied := 0
	for _, is := range issues {
		if is.Location.ElementID == "" {
			continue
		}
		num, body, ok := p.find(elementRe(is.Location.ElementID))
		if !ok {
			continue
		}
		if !tdTagRe.Match(body) {
			continue
		}
		p.replace(num, tdTagRe.ReplaceAll(body, []byte("/S /TH")))
		applied++
	}

	if applied == 0 {
		return &FixResult{Data: data, Applied: 0}, nil
	}
	return &FixResult{Data: p.bytes(), Applied: applied}, nil
}

// readingOrderFixer sets tab order to follow the structure tree on pages the
// scanner flagged.
type readingOrderFixer struct{}

func (f *readingOrderFixer) Category() string { return domain.CategoryReadingOrder }

func (f *readingOrderFixer) Fix(_ context.Context, data []byte, issues []domain.Issue) (*FixResult, error) {
	p, err := newPatch(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	pages := p.findAll(pageObjRe)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page objects")
	}

	applied := 0
	patchedPages := make(map[int]bool)
	for _, is := range issues {
		idx := is.Location.Page - 1
		if idx < 0 || idx >= len(pages) || patchedPages[pages[idx].num] {
			continue
		}
		body, _ := p.object(pages[idx].num)
		patched, changed := setDictEntry(body, "/Tabs", "/S")
		if !changed {
			continue
		}
		p.replace(pages[idx].num, patched)
		patchedPages[pages[idx].num] = true
		applied++
	}

	if applied == 0 {
		return &FixResult{Data: data, Applied: 0}, nil
	}
	return &FixResult{Data: p.bytes(), Applied: applied}, nil
}

// altTextFixer attaches alternate descriptions to figure structure elements.
// Only elements the scanner localized by id are touched; figures it could
// not resolve stay failing, which the re-scan then reports.
type altTextFixer struct{}

func (f *altTextFixer) Category() string { return domain.CategoryAltText }

var figureTagRe = regexp.MustCompile(`/S\s*/Figure\b`)

func (f *altTextFixer) Fix(_ context.Context, data []byte, issues []domain.Issue) (*FixResult, error) {
	p, err := newPatch(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}

	applied := 0
	for _, is := range issues {
		if is.Location.ElementID == "" {
			continue
		}
		num, body, ok := p.find(elementRe(is.Location.ElementID))
		if !ok || !figureTagRe.Match(body) {
			continue
		}
		alt := altTextFor(is)
		patched, changed := setDictEntry(body, "/Alt", "("+escapeLiteral(alt)+")")
		if !changed {
			continue
		}
		p.replace(num, patched)
		applied++
	}

	if applied == 0 {
		return &FixResult{Data: data, Applied: 0}, nil
	}
	return &FixResult{Data: p.bytes(), Applied: applied}, nil
}

func altTextFor(is domain.Issue) string {
	if s := strings.TrimSpace(is.Snippet); s != "" {
		return s
	}
	if is.Location.Page > 0 {
		return fmt.Sprintf("Figure on page %d", is.Location.Page)
	}
	return "Figure"
}

func escapeLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// defaultFixers returns the registered fixers in application order:
// structural repairs first so content repairs see corrected structure.
func defaultFixers(lang string) []Fixer {
	return []Fixer{
		&bookmarkFixer{},
		&headingNestingFixer{},
		&tableHeaderFixer{},
		&readingOrderFixer{},
		&languageFixer{lang: lang},
		&altTextFixer{},
	}
}
