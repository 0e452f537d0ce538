// Package pipeline drives a document through the full remediation
// lifecycle: validation, credit reservation, tagging, scanning, automated
// repair, re-scan, diffing and suggestion generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc-ai/remediation-engine/internal/autofix"
	"github.com/veridoc-ai/remediation-engine/internal/compare"
	"github.com/veridoc-ai/remediation-engine/internal/credit"
	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/scan"
	"github.com/veridoc-ai/remediation-engine/internal/suggest"
	"github.com/veridoc-ai/remediation-engine/internal/tagging"
	"github.com/veridoc-ai/remediation-engine/internal/validate"
)

// Request describes one document submitted for remediation. RunID may be
// preassigned by the caller; a zero value gets a fresh one.
type Request struct {
	RunID    uuid.UUID
	UserID   string
	FileName string
	FileType string
	Data     []byte
}

// CostFunc prices a validated document in credits.
type CostFunc func(doc domain.Document) int

// FlatCost reserves one usage unit per run regardless of document size.
// This is the default pricing.
func FlatCost(domain.Document) int { return 1 }

// PerPageCost charges one credit per page, minimum one. Available for
// deployments that want size-sensitive pricing via SetCost.
func PerPageCost(doc domain.Document) int {
	if doc.PageCount < 1 {
		return 1
	}
	return doc.PageCount
}

// Orchestrator wires the stage collaborators together and owns the run
// lifecycle. Collaborators are injected; the orchestrator itself holds no
// document state between runs.
type Orchestrator struct {
	validator *validate.Validator
	meter     *credit.Meter
	tagger    tagging.Tagger
	scanner   scan.Scanner
	engine    *autofix.Engine
	suggester *suggest.Generator
	registry  Registry
	cost      CostFunc
	logger    *observability.Logger
}

func NewOrchestrator(
	validator *validate.Validator,
	meter *credit.Meter,
	tagger tagging.Tagger,
	scanner scan.Scanner,
	engine *autofix.Engine,
	suggester *suggest.Generator,
	registry Registry,
	logger *observability.Logger,
) *Orchestrator {
	return &Orchestrator{
		validator: validator,
		meter:     meter,
		tagger:    tagger,
		scanner:   scanner,
		engine:    engine,
		suggester: suggester,
		registry:  registry,
		cost:      FlatCost,
		logger:    logger,
	}
}

// SetCost replaces the pricing function.
func (o *Orchestrator) SetCost(f CostFunc) { o.cost = f }

// Status reports the state of an in-flight run. Completed runs leave the
// registry, so a miss means the run either finished or never existed.
func (o *Orchestrator) Status(id uuid.UUID) (State, bool) {
	run, ok := o.registry.Get(id)
	if !ok {
		return "", false
	}
	return run.State(), true
}

// Cancel flags an in-flight run for cancellation. The run winds down at its
// next stage boundary; credits reserved for it are refunded there.
func (o *Orchestrator) Cancel(id uuid.UUID) bool {
	run, ok := o.registry.Get(id)
	if !ok {
		return false
	}
	return run.RequestCancel()
}

// Execute runs the full pipeline for one document. It always returns a
// Result; Result.Err is set on failed and cancelled runs. Credits are
// settled exactly once on every exit path: committed on completion,
// refunded on cancellation or failure after reservation.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (result *Result) {
	run := newRun(req.UserID, req.FileName)
	if req.RunID != uuid.Nil {
		run.ID = req.RunID
	}
	o.registry.Put(run)

	log := o.logger.WithRun(run.ID.String()).WithUser(req.UserID)
	log.Info().Str("file", req.FileName).Int("size", len(req.Data)).Msg("run registered")

	var res *credit.Reservation
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pipeline panic")
			result = o.fail(ctx, run, res, domain.UnhandledError(fmt.Sprintf("pipeline panic: %v", r), nil))
		}
	}()

	// Validation runs before any credit movement, so an oversized or
	// malformed upload costs nothing.
	doc, err := o.validator.Validate(req.Data, req.FileName, req.FileType)
	if err != nil {
		return o.fail(ctx, run, nil, err)
	}
	run.advance(StateValidated)
	log.Debug().Int("pages", doc.PageCount).Str("class", string(doc.Class)).Msg("document validated")

	if err := o.checkpoint(ctx, run); err != nil {
		return o.cancelOut(ctx, run, nil)
	}

	res, err = o.meter.Reserve(ctx, req.UserID, o.cost(doc), "remediation run", run.ID.String())
	if err != nil {
		return o.fail(ctx, run, nil, err)
	}
	run.advance(StateCreditReserved)

	if err := o.checkpoint(ctx, run); err != nil {
		return o.cancelOut(ctx, run, res)
	}

	telemetry := Telemetry{}

	// Tagging is best effort. A tagger outage degrades the run rather
	// than failing it; downstream stages see the original bytes.
	working := doc
	if tagged, err := o.tagger.Tag(ctx, doc.Raw(), doc.FileName); err != nil {
		telemetry.TaggingDegraded = true
		log.Warn().Err(err).Msg("structure tagging degraded, continuing untagged")
	} else {
		working = doc.WithBytes(tagged.Bytes)
	}
	run.advance(StateTagged)

	if err := o.checkpoint(ctx, run); err != nil {
		return o.cancelOut(ctx, run, res)
	}

	initial, err := o.scanner.Scan(ctx, working.Raw(), working.FileName, working.FileType)
	if err != nil {
		return o.fail(ctx, run, res, domain.NewError(domain.CodeUnhandledFailure, "initial accessibility scan failed", err))
	}
	run.advance(StateScanned)
	log.Info().Int("issues", len(initial.Issues)).Msg("initial scan complete")

	if err := o.checkpoint(ctx, run); err != nil {
		return o.cancelOut(ctx, run, res)
	}

	outcome, err := o.engine.Repair(ctx, working.Raw(), initial.Issues)
	if err != nil {
		return o.cancelOut(ctx, run, res)
	}
	if !outcome.Success {
		// Full repair failure degrades to a no-op: the re-scan and diff
		// still run over the original so the caller sees an honest zero.
		telemetry.RepairFailed = true
		log.Warn().Int("categories_failed", len(outcome.Errors)).Msg("repair pass failed, continuing with original document")
	}
	for _, se := range outcome.Errors {
		telemetry.RepairErrors = append(telemetry.RepairErrors, se.Error())
	}
	telemetry.FixesApplied = outcome.TotalApplied()
	repaired := working.WithBytes(outcome.Data)
	run.advance(StateRepaired)

	if err := o.checkpoint(ctx, run); err != nil {
		return o.cancelOut(ctx, run, res)
	}

	rescan, err := o.scanner.Scan(ctx, repaired.Raw(), repaired.FileName, repaired.FileType)
	if err != nil {
		return o.fail(ctx, run, res, domain.NewError(domain.CodeUnhandledFailure, "post-repair scan failed", err))
	}
	run.advance(StateReScanned)

	comparison := compare.New(outcome.Applied).Compare(initial.Issues, rescan.Issues)
	run.advance(StateDiffed)
	log.Info().
		Int("fixed", len(comparison.Fixed)).
		Int("remaining", len(comparison.Remaining)).
		Int("improvement_pct", comparison.ImprovementPercentage).
		Msg("scan diff complete")

	if err := o.checkpoint(ctx, run); err != nil {
		return o.cancelOut(ctx, run, res)
	}

	suggestions, err := o.suggester.Generate(ctx, comparison.Remaining, func() error {
		if run.CancelRequested() {
			return domain.CancelledError("run cancelled")
		}
		return nil
	})
	if err != nil {
		if domain.IsCode(err, domain.CodeCancelled) {
			return o.cancelOut(ctx, run, res)
		}
		// Suggestion failures never waste the repair work already done.
		telemetry.RepairErrors = append(telemetry.RepairErrors, "suggestions: "+err.Error())
		log.Warn().Err(err).Msg("suggestion generation incomplete")
	}
	run.advance(StateSuggested)

	if err := o.meter.Commit(res); err != nil {
		log.Error().Err(err).Msg("credit commit failed")
	}
	run.advance(StateCompleted)
	o.registry.Remove(run.ID)
	telemetry.Duration = run.elapsed()
	telemetry.Stages = run.History()
	log.Info().Dur("duration", telemetry.Duration).Msg("run completed")

	return &Result{
		RunID:       run.ID,
		State:       StateCompleted,
		Document:    &repaired,
		InitialScan: initial,
		FinalScan:   rescan,
		Comparison:  comparison,
		Suggestions: suggestions,
		Telemetry:   telemetry,
	}
}

// checkpoint is polled at every stage boundary. A pending context or run
// cancellation surfaces here, never mid-stage.
func (o *Orchestrator) checkpoint(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.CancelRequested() {
		return domain.CancelledError("run cancelled")
	}
	return nil
}

// fail finishes a run in the failed state, refunding any reservation.
func (o *Orchestrator) fail(ctx context.Context, run *Run, res *credit.Reservation, err error) *Result {
	o.refund(ctx, run, res)
	run.advance(StateFailed)
	o.registry.Remove(run.ID)

	var derr *domain.Error
	if !errors.As(err, &derr) {
		derr = domain.UnhandledError("run failed", err)
	}
	o.logger.WithRun(run.ID.String()).WithUser(run.UserID).Error().Err(err).Str("code", string(derr.Code)).Msg("run failed")
	return &Result{RunID: run.ID, State: StateFailed, Err: derr, Telemetry: Telemetry{Duration: run.elapsed(), Stages: run.History()}}
}

// cancelOut finishes a run in the cancelled state, refunding any reservation.
func (o *Orchestrator) cancelOut(ctx context.Context, run *Run, res *credit.Reservation) *Result {
	o.refund(ctx, run, res)
	run.advance(StateCancelled)
	o.registry.Remove(run.ID)
	o.logger.WithRun(run.ID.String()).WithUser(run.UserID).Info().Msg("run cancelled")
	return &Result{
		RunID:     run.ID,
		State:     StateCancelled,
		Err:       domain.CancelledError("run cancelled"),
		Telemetry: Telemetry{Duration: run.elapsed(), Stages: run.History()},
	}
}

func (o *Orchestrator) refund(ctx context.Context, run *Run, res *credit.Reservation) {
	if res == nil || res.Settled() {
		return
	}
	// Refund must survive a dead request context.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.meter.Refund(rctx, res); err != nil {
		o.logger.WithRun(run.ID.String()).WithUser(run.UserID).Error().Err(err).Msg("credit refund failed")
	}
}
