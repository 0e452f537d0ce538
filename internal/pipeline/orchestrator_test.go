package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/remediation-engine/internal/autofix"
	"github.com/veridoc-ai/remediation-engine/internal/credit"
	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/scan"
	"github.com/veridoc-ai/remediation-engine/internal/suggest"
	"github.com/veridoc-ai/remediation-engine/internal/tagging"
	"github.com/veridoc-ai/remediation-engine/internal/validate"
)

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]int
	unlimited map[string]bool
	deducts   int
	adds      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int{}, unlimited: map[string]bool{}}
}

func (f *fakeLedger) GetBalance(_ context.Context, userID string) (credit.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return credit.Balance{Remaining: f.balances[userID], Unlimited: f.unlimited[userID]}, nil
}

func (f *fakeLedger) Deduct(_ context.Context, userID string, amount int, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deducts++
	f.balances[userID] -= amount
	return f.balances[userID], nil
}

func (f *fakeLedger) Add(_ context.Context, userID string, amount int, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	f.balances[userID] += amount
	return f.balances[userID], nil
}

type fakeTagger struct {
	err    error
	suffix string
	calls  int
}

func (f *fakeTagger) Tag(_ context.Context, data []byte, _ string) (*tagging.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &tagging.Result{Bytes: append(append([]byte{}, data...), []byte(f.suffix)...)}, nil
}

// fakeScanner serves queued reports in order, repeating the last one.
type fakeScanner struct {
	mu      sync.Mutex
	reports []*scan.Report
	calls   int
	panics  bool
	err     error
	onScan  func(call int)
}

func report(issues ...domain.Issue) *scan.Report {
	return &scan.Report{Issues: issues}
}

func (f *fakeScanner) Scan(_ context.Context, _ []byte, _, _ string) (*scan.Report, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.onScan != nil {
		f.onScan(call)
	}
	if f.panics {
		panic("scanner crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	if call < len(f.reports) {
		return f.reports[call], nil
	}
	return f.reports[len(f.reports)-1], nil
}

type okFixer struct {
	category string
	applied  int
	err      error
}

func (f *okFixer) Category() string { return f.category }

func (f *okFixer) Fix(_ context.Context, data []byte, _ []domain.Issue) (*autofix.FixResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &autofix.FixResult{Data: data, Applied: f.applied}, nil
}

type fakeBackend struct{}

func (fakeBackend) Suggest(_ context.Context, issue domain.Issue) (string, error) {
	return "manual fix for " + issue.RuleID, nil
}

type instantSleeper struct{}

func (instantSleeper) Sleep(context.Context, time.Duration) error { return nil }

type harness struct {
	orch     *Orchestrator
	ledger   *fakeLedger
	tagger   *fakeTagger
	scanner  *fakeScanner
	registry *MemoryRegistry
}

func pdfPayload() []byte {
	return []byte("%PDF-1.7\nstream\n(" + strings.Repeat("text ", 200) + ") Tj\nendstream\n")
}

func altIssue(id string) domain.Issue {
	return domain.Issue{
		RuleID:   "alt-text-missing",
		Category: domain.CategoryAltText,
		Status:   domain.StatusFailed,
		Location: domain.Location{Page: 1, ElementID: id},
	}
}

func newHarness(t *testing.T, scanner *fakeScanner, fixers []autofix.Fixer) *harness {
	t.Helper()
	log := observability.Nop()

	ledger := newFakeLedger()
	ledger.balances["u1"] = 10

	validator := validate.NewValidatorWithPageCounter(validate.Config{
		MaxFileSize: 1 << 20,
		Thresholds: validate.Thresholds{
			MinCharsPerPage: 10,
			LargeFileSize:   1 << 30,
			MaxBytesPerChar: 1 << 20,
		},
	}, log, func([]byte) (int, error) { return 2, nil })

	if fixers == nil {
		fixers = []autofix.Fixer{&okFixer{category: domain.CategoryAltText, applied: 1}}
	}
	engine := autofix.NewEngineWithFixers(fixers, nil, log)

	suggester := suggest.NewGenerator(fakeBackend{}, nil, suggest.Config{MaxPerRun: 10}, log)
	suggester.SetSleeper(instantSleeper{})

	tagger := &fakeTagger{suffix: "+tagged"}
	registry := NewMemoryRegistry()
	orch := NewOrchestrator(
		validator,
		credit.NewMeter(ledger, log),
		tagger,
		scanner,
		engine,
		suggester,
		registry,
		log,
	)
	return &harness{orch: orch, ledger: ledger, tagger: tagger, scanner: scanner, registry: registry}
}

func (h *harness) execute(t *testing.T, userID string) *Result {
	t.Helper()
	return h.orch.Execute(context.Background(), Request{
		UserID:   userID,
		FileName: "doc.pdf",
		FileType: "application/pdf",
		Data:     pdfPayload(),
	})
}

func TestExecuteHappyPath(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{
		report(altIssue("fig-1"), altIssue("fig-2")),
		report(),
	}}
	h := newHarness(t, scanner, nil)

	result := h.execute(t, "u1")
	require.Equal(t, StateCompleted, result.State)
	require.Nil(t, result.Err)

	assert.Equal(t, 2, scanner.calls)
	assert.Equal(t, 2, result.Comparison.OriginalFailed)
	assert.Equal(t, 100, result.Comparison.ImprovementPercentage)
	assert.Empty(t, result.Suggestions)
	assert.Equal(t, 1, result.Telemetry.FixesApplied)
	assert.False(t, result.Telemetry.TaggingDegraded)
	assert.False(t, result.Telemetry.RepairFailed)

	// Every lifecycle transition is recorded, completion included.
	require.NotEmpty(t, result.Telemetry.Stages)
	assert.Equal(t, StateCompleted, result.Telemetry.Stages[len(result.Telemetry.Stages)-1].State)

	// One flat usage unit for the run, committed; no refund entry.
	assert.Equal(t, 9, h.ledger.balances["u1"])
	assert.Equal(t, 1, h.ledger.deducts)
	assert.Equal(t, 0, h.ledger.adds)

	// Terminal runs leave the registry.
	assert.Empty(t, h.registry.Active())

	// The repaired document flows through tagging.
	assert.Contains(t, string(result.Document.Raw()), "+tagged")
}

func TestExecuteSuggestionsForRemaining(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{
		report(altIssue("fig-1"), altIssue("fig-2")),
		report(altIssue("fig-2")),
	}}
	h := newHarness(t, scanner, nil)

	result := h.execute(t, "u1")
	require.Equal(t, StateCompleted, result.State)
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "fig-2", result.Suggestions[0].Issue.Location.ElementID)
	assert.Equal(t, "manual fix for alt-text-missing", result.Suggestions[0].Recommendation)
	assert.Equal(t, 50, result.Comparison.ImprovementPercentage)
}

func TestExecuteInvalidDocumentChargesNothing(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)

	result := h.orch.Execute(context.Background(), Request{
		UserID:   "u1",
		FileName: "doc.exe",
		FileType: "application/octet-stream",
		Data:     []byte("MZ"),
	})

	require.Equal(t, StateFailed, result.State)
	require.NotNil(t, result.Err)
	assert.Equal(t, domain.CodeInvalidFormat, result.Err.Code)
	// Validation failure happens before any ledger movement.
	assert.Equal(t, 0, h.ledger.deducts)
	assert.Equal(t, 0, h.ledger.adds)
	assert.Equal(t, 0, scanner.calls)
	assert.Empty(t, h.registry.Active())
}

func TestExecuteOversizedChargesNothing(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)

	big := append([]byte("%PDF-1.7\n"), make([]byte, 2<<20)...)
	result := h.orch.Execute(context.Background(), Request{
		UserID: "u1", FileName: "big.pdf", FileType: "application/pdf", Data: big,
	})

	require.Equal(t, StateFailed, result.State)
	assert.Equal(t, domain.CodeTooLarge, result.Err.Code)
	assert.Equal(t, 0, h.ledger.deducts)
	assert.Equal(t, 10, h.ledger.balances["u1"])
}

func TestExecuteInsufficientCredit(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)
	h.ledger.balances["poor"] = 0

	result := h.execute(t, "poor")
	require.Equal(t, StateFailed, result.State)
	assert.Equal(t, domain.CodeInsufficientCredit, result.Err.Code)
	assert.Equal(t, 0, h.ledger.balances["poor"])
	assert.Equal(t, 0, scanner.calls)
	assert.Empty(t, h.registry.Active())
}

func TestExecuteCancellationRefunds(t *testing.T) {
	runID := uuid.New()
	scanner := &fakeScanner{reports: []*scan.Report{
		report(altIssue("fig-1")),
		report(),
	}}
	h := newHarness(t, scanner, nil)
	// Cancel after the initial scan; the run winds down at the next
	// stage boundary.
	scanner.onScan = func(call int) {
		if call == 0 {
			require.True(t, h.orch.Cancel(runID))
		}
	}

	result := h.orch.Execute(context.Background(), Request{
		RunID:    runID,
		UserID:   "u1",
		FileName: "doc.pdf",
		FileType: "application/pdf",
		Data:     pdfPayload(),
	})

	require.Equal(t, StateCancelled, result.State)
	assert.Equal(t, domain.CodeCancelled, result.Err.Code)
	// Reserve then refund: balance conserved, both entries written.
	assert.Equal(t, 10, h.ledger.balances["u1"])
	assert.Equal(t, 1, h.ledger.deducts)
	assert.Equal(t, 1, h.ledger.adds)
	assert.Equal(t, 1, scanner.calls)
	assert.Empty(t, h.registry.Active())
}

func TestExecuteTaggingDegrades(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{
		report(altIssue("fig-1")),
		report(),
	}}
	h := newHarness(t, scanner, nil)
	h.tagger.err = errors.New("tagger unavailable")

	result := h.execute(t, "u1")
	require.Equal(t, StateCompleted, result.State)
	assert.True(t, result.Telemetry.TaggingDegraded)
	// Untagged bytes flow through.
	assert.NotContains(t, string(result.Document.Raw()), "+tagged")
	// Degradation does not refund: work was delivered.
	assert.Equal(t, 9, h.ledger.balances["u1"])
}

func TestExecuteRepairFailureDegrades(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{
		report(altIssue("fig-1")),
		report(altIssue("fig-1")),
	}}
	fixers := []autofix.Fixer{
		&okFixer{category: domain.CategoryAltText, err: errors.New("no structure tree")},
	}
	h := newHarness(t, scanner, fixers)

	result := h.execute(t, "u1")
	require.Equal(t, StateCompleted, result.State)
	assert.True(t, result.Telemetry.RepairFailed)
	assert.NotEmpty(t, result.Telemetry.RepairErrors)
	assert.Equal(t, 0, result.Comparison.ImprovementPercentage)
	// The re-scan still ran, over the original bytes.
	assert.Equal(t, 2, scanner.calls)
	assert.Equal(t, 9, h.ledger.balances["u1"])
}

func TestExecutePartialRepairContinues(t *testing.T) {
	tableIssue := domain.Issue{
		RuleID:   "table-header-missing",
		Category: domain.CategoryTableHeader,
		Status:   domain.StatusFailed,
		Location: domain.Location{Page: 1, ElementID: "tbl-1"},
	}
	scanner := &fakeScanner{reports: []*scan.Report{
		report(altIssue("fig-1"), tableIssue),
		report(tableIssue),
	}}
	fixers := []autofix.Fixer{
		&okFixer{category: domain.CategoryTableHeader, err: errors.New("malformed rows")},
		&okFixer{category: domain.CategoryAltText, applied: 1},
	}
	h := newHarness(t, scanner, fixers)

	result := h.execute(t, "u1")
	require.Equal(t, StateCompleted, result.State)
	assert.False(t, result.Telemetry.RepairFailed)
	assert.Len(t, result.Telemetry.RepairErrors, 1)
	assert.Equal(t, 50, result.Comparison.ImprovementPercentage)
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "table-header-missing", result.Suggestions[0].Issue.RuleID)
}

func TestExecuteScannerFailureRefunds(t *testing.T) {
	scanner := &fakeScanner{err: errors.New("scanner down"), reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)

	result := h.execute(t, "u1")
	require.Equal(t, StateFailed, result.State)
	assert.Equal(t, domain.CodeUnhandledFailure, result.Err.Code)
	assert.Equal(t, 10, h.ledger.balances["u1"])
	assert.Equal(t, 1, h.ledger.adds)
	assert.Empty(t, h.registry.Active())
}

func TestExecutePanicRecovery(t *testing.T) {
	scanner := &fakeScanner{panics: true, reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)

	result := h.execute(t, "u1")
	require.Equal(t, StateFailed, result.State)
	assert.Equal(t, domain.CodeUnhandledFailure, result.Err.Code)
	// The recovered panic still refunds exactly once.
	assert.Equal(t, 10, h.ledger.balances["u1"])
	assert.Equal(t, 1, h.ledger.adds)
	assert.Empty(t, h.registry.Active())
}

func TestExecuteContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := &fakeScanner{reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)
	result := h.orch.Execute(ctx, Request{
		UserID: "u1", FileName: "doc.pdf", FileType: "application/pdf", Data: pdfPayload(),
	})

	require.Equal(t, StateCancelled, result.State)
	// Cancelled before reservation: nothing moved.
	assert.Equal(t, 10, h.ledger.balances["u1"])
	assert.Equal(t, 0, h.ledger.deducts)
}

func TestStatusAndCancelUnknownRun(t *testing.T) {
	scanner := &fakeScanner{reports: []*scan.Report{report()}}
	h := newHarness(t, scanner, nil)

	_, ok := h.orch.Status(uuid.New())
	assert.False(t, ok)
	assert.False(t, h.orch.Cancel(uuid.New()))
}

func TestRunStateMachine(t *testing.T) {
	run := newRun("u1", "doc.pdf")
	assert.Equal(t, StateRegistered, run.State())
	assert.False(t, run.State().Terminal())

	assert.True(t, run.advance(StateValidated))
	assert.True(t, run.advance(StateCancelled))
	assert.True(t, run.State().Terminal())
	// Terminal states are final.
	assert.False(t, run.advance(StateCompleted))
	assert.Equal(t, StateCancelled, run.State())
	assert.False(t, run.RequestCancel())

	history := run.History()
	require.Len(t, history, 2)
	assert.Equal(t, StateValidated, history[0].State)
	assert.Equal(t, StateCancelled, history[1].State)

	// Repeating a cancellation request on a live run is a no-op, not an
	// error.
	live := newRun("u1", "doc.pdf")
	assert.True(t, live.RequestCancel())
	assert.True(t, live.RequestCancel())
	assert.True(t, live.CancelRequested())
}

func TestDefaultPricingIsFlat(t *testing.T) {
	// One usage unit per run regardless of size; per-page pricing is opt-in.
	doc := domain.Document{PageCount: 10}
	assert.Equal(t, 1, FlatCost(doc))
	assert.Equal(t, 10, PerPageCost(doc))
	assert.Equal(t, 1, PerPageCost(domain.Document{}))
}
