package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/models"
	"github.com/mscottkey/fable-engine/internal/story"
)

var (
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrPhaseLocked          = errors.New("prior phase is not approved yet")
	ErrPhaseNotApproved     = errors.New("phase has no approved output")
	ErrPhaseAlreadyApproved = errors.New("phase is already approved; use remix to replace it")
)

// Store persists campaigns and their approved phase outputs.
type Store interface {
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	SavePhaseRecord(ctx context.Context, rec *models.PhaseRecord) error
	ListPhaseRecords(ctx context.Context, campaignID string) ([]models.PhaseRecord, error)
}

// RunOptions carries the optional inputs of one phase run.
type RunOptions struct {
	Target              *story.RegenTarget
	Feedback            string
	RemixBrief          string
	PreserveProperNouns bool
}

// Coordinator sequences the six generation phases for each campaign,
// threading every approved output into the next phase's context and merging
// partial regen results back into their aggregates.
type Coordinator struct {
	generator *engine.Generator
	store     Store
	logger    *zap.Logger

	mu        sync.RWMutex
	campaigns map[string]*pipelineEntry
}

// pipelineEntry serializes phase runs per campaign; campaigns are fully
// independent of each other.
type pipelineEntry struct {
	mu    sync.Mutex
	state *PipelineState
}

func NewCoordinator(generator *engine.Generator, store Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		generator: generator,
		store:     store,
		logger:    logger,
		campaigns: make(map[string]*pipelineEntry),
	}
}

// CreateCampaign registers a new campaign shell around a premise seed.
func (c *Coordinator) CreateCampaign(ctx context.Context, title, premise string) (*PipelineState, error) {
	campaign := &models.Campaign{
		ID:      uuid.NewString(),
		Title:   title,
		Premise: premise,
		Status:  "drafting",
	}
	if err := c.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, &engine.Failure{Kind: engine.ErrPersistenceFailed, Message: "create campaign", Err: err}
	}

	entry := &pipelineEntry{state: newPipelineState(campaign.ID, premise)}
	c.mu.Lock()
	c.campaigns[campaign.ID] = entry
	c.mu.Unlock()

	return entry.state.clone(), nil
}

// Pipeline returns a snapshot of the campaign's phase statuses and outputs.
func (c *Coordinator) Pipeline(ctx context.Context, campaignID string) (*PipelineState, error) {
	entry, err := c.entry(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.clone(), nil
}

// Output returns the approved output of one phase.
func (c *Coordinator) Output(ctx context.Context, campaignID string, phase story.Phase) (json.RawMessage, error) {
	entry, err := c.entry(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.state.Approved(phase) {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotApproved, phase)
	}
	return entry.state.Outputs[phase], nil
}

// RunPhase executes one generation request against a campaign's pipeline.
// Phases run strictly in order: an initial run is rejected while the prior
// phase lacks approval, before any completion call is made.
func (c *Coordinator) RunPhase(ctx context.Context, campaignID string, phase story.Phase, op story.Operation, opts RunOptions) (*engine.Result, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown phase %d", int(phase))
	}
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	entry, err := c.entry(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	st := entry.state

	var aggregate any
	switch op {
	case story.OpInitial:
		if prev, ok := phase.Prev(); ok && !st.Approved(prev) {
			return nil, fmt.Errorf("%w: phase %s needs phase %s", ErrPhaseLocked, phase, prev)
		}
		if st.Approved(phase) {
			return nil, fmt.Errorf("%w: %s", ErrPhaseAlreadyApproved, phase)
		}
	case story.OpRegen:
		if !st.Approved(phase) {
			return nil, fmt.Errorf("%w: %s", ErrPhaseNotApproved, phase)
		}
		if opts.Target == nil {
			return nil, &engine.Failure{
				Kind: engine.ErrInvalidTarget, Phase: phase, Operation: op,
				Message: "regen requires a target",
			}
		}
		if !opts.Target.ValidForPhase(phase) {
			return nil, &engine.Failure{
				Kind: engine.ErrInvalidTarget, Phase: phase, Operation: op, Target: opts.Target,
				Message: fmt.Sprintf("%s does not address phase %s", opts.Target, phase),
			}
		}
		aggregate, err = decodeAggregate(phase, st.Outputs[phase])
		if err != nil {
			return nil, err
		}
		// The addressed element must exist before any completion call.
		if err := verifyTarget(aggregate, *opts.Target); err != nil {
			c.annotate(err, phase, op)
			return nil, err
		}
	case story.OpRemix:
		if !st.Approved(phase) {
			return nil, fmt.Errorf("%w: %s", ErrPhaseNotApproved, phase)
		}
	}

	prevStatus := st.Statuses[phase]
	st.Statuses[phase] = StatusGenerating

	req := &engine.GenerationRequest{
		Phase:               phase,
		Operation:           op,
		Target:              opts.Target,
		Feedback:            opts.Feedback,
		RemixBrief:          opts.RemixBrief,
		PreserveProperNouns: opts.PreserveProperNouns,
		Premise:             st.Premise,
		CurrentData:         st.Outputs[phase],
		ContextInputs:       st.contextInputs(phase),
	}

	result, err := c.generator.Generate(ctx, req)
	if err != nil {
		// A regen failure leaves the approved aggregate untouched; an
		// initial/remix failure halts the phase.
		if op == story.OpRegen {
			st.Statuses[phase] = prevStatus
		} else {
			st.Statuses[phase] = StatusFailed
		}
		return nil, err
	}

	newRaw := result.Raw
	if op == story.OpRegen {
		if err := applyFragment(aggregate, *opts.Target, result.Data); err != nil {
			st.Statuses[phase] = prevStatus
			return nil, err
		}
		merged, err := json.Marshal(aggregate)
		if err != nil {
			st.Statuses[phase] = prevStatus
			return nil, fmt.Errorf("marshal merged %s output: %w", phase, err)
		}
		newRaw = merged
	}

	if err := c.persistPhase(ctx, st, phase, newRaw, result.Warnings); err != nil {
		// Persistence failure is surfaced, not swallowed: the phase does not
		// approve and the prior aggregate stays current.
		if op == story.OpRegen {
			st.Statuses[phase] = prevStatus
		} else {
			st.Statuses[phase] = StatusFailed
		}
		failure := &engine.Failure{
			Kind: engine.ErrPersistenceFailed, Phase: phase, Operation: op, Target: opts.Target,
			Message: "persist approved output", Err: err,
		}
		return nil, failure
	}

	st.Outputs[phase] = newRaw
	if len(result.Warnings) > 0 {
		st.Warnings[phase] = result.Warnings
	} else {
		delete(st.Warnings, phase)
	}
	st.Statuses[phase] = StatusApproved

	c.logger.Info("phase approved",
		zap.String("campaign_id", campaignID),
		zap.Stringer("phase", phase),
		zap.String("operation", string(op)),
		zap.Bool("repaired", result.Repaired),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

func (c *Coordinator) persistPhase(ctx context.Context, st *PipelineState, phase story.Phase, raw json.RawMessage, warnings []string) error {
	recordID := st.records[phase]
	if recordID == "" {
		recordID = uuid.NewString()
	}
	var prevID string
	if prev, ok := phase.Prev(); ok {
		prevID = st.records[prev]
	}

	rec := &models.PhaseRecord{
		ID:           recordID,
		CampaignID:   st.CampaignID,
		PhaseNumber:  int(phase),
		PrevRecordID: prevID,
		Status:       string(StatusApproved),
		Output:       string(raw),
		Warnings:     strings.Join(warnings, "\n"),
	}
	if err := c.store.SavePhaseRecord(ctx, rec); err != nil {
		return err
	}
	st.records[phase] = recordID
	return nil
}

// entry fetches the in-memory pipeline for a campaign, hydrating it from
// the store on first access.
func (c *Coordinator) entry(ctx context.Context, campaignID string) (*pipelineEntry, error) {
	c.mu.RLock()
	entry, ok := c.campaigns[campaignID]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	campaign, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	records, err := c.store.ListPhaseRecords(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load phase records: %w", err)
	}

	state := newPipelineState(campaign.ID, campaign.Premise)
	for _, rec := range records {
		phase := story.Phase(rec.PhaseNumber)
		if !phase.Valid() || rec.Status != string(StatusApproved) {
			continue
		}
		state.Statuses[phase] = StatusApproved
		state.Outputs[phase] = json.RawMessage(rec.Output)
		state.records[phase] = rec.ID
		if rec.Warnings != "" {
			state.Warnings[phase] = strings.Split(rec.Warnings, "\n")
		}
	}

	entry = &pipelineEntry{state: state}
	c.mu.Lock()
	if existing, ok := c.campaigns[campaignID]; ok {
		entry = existing
	} else {
		c.campaigns[campaignID] = entry
	}
	c.mu.Unlock()
	return entry, nil
}

func (c *Coordinator) annotate(err error, phase story.Phase, op story.Operation) {
	var f *engine.Failure
	if errors.As(err, &f) {
		f.Phase = phase
		f.Operation = op
	}
}
