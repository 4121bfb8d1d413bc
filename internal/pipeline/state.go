package pipeline

import (
	"encoding/json"

	"github.com/mscottkey/fable-engine/internal/story"
)

// PhaseStatus is the per-phase pipeline state machine:
// pending → generating → {approved | failed}, with approved → generating
// re-entry on regen/remix.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusGenerating PhaseStatus = "generating"
	StatusApproved   PhaseStatus = "approved"
	StatusFailed     PhaseStatus = "failed"
)

// PipelineState tracks one campaign's progress through the six phases.
// Phase outputs it holds are read-only to downstream phases.
type PipelineState struct {
	CampaignID string                               `json:"campaign_id"`
	Premise    string                               `json:"premise"`
	Statuses   map[story.Phase]PhaseStatus          `json:"statuses"`
	Outputs    map[story.Phase]json.RawMessage      `json:"outputs"`
	Warnings   map[story.Phase][]string             `json:"warnings,omitempty"`
	records    map[story.Phase]string               // phase → persisted record id, for chaining
}

func newPipelineState(campaignID, premise string) *PipelineState {
	statuses := make(map[story.Phase]PhaseStatus, 6)
	for p := story.PhaseOverview; p <= story.PhaseResolutions; p++ {
		statuses[p] = StatusPending
	}
	return &PipelineState{
		CampaignID: campaignID,
		Premise:    premise,
		Statuses:   statuses,
		Outputs:    make(map[story.Phase]json.RawMessage),
		Warnings:   make(map[story.Phase][]string),
		records:    make(map[story.Phase]string),
	}
}

// Approved reports whether the phase has an approved output.
func (s *PipelineState) Approved(phase story.Phase) bool {
	return s.Statuses[phase] == StatusApproved
}

// NextPhase returns the lowest phase that is not yet approved, if any.
func (s *PipelineState) NextPhase() (story.Phase, bool) {
	for p := story.PhaseOverview; p <= story.PhaseResolutions; p++ {
		if !s.Approved(p) {
			return p, true
		}
	}
	return 0, false
}

// contextInputs collects every approved output at or below the given phase,
// excluding the phase itself.
func (s *PipelineState) contextInputs(phase story.Phase) map[story.Phase]json.RawMessage {
	inputs := make(map[story.Phase]json.RawMessage)
	for p := story.PhaseOverview; p < phase; p++ {
		if s.Approved(p) {
			inputs[p] = s.Outputs[p]
		}
	}
	return inputs
}

// clone returns a caller-safe snapshot of the visible state.
func (s *PipelineState) clone() *PipelineState {
	snapshot := &PipelineState{
		CampaignID: s.CampaignID,
		Premise:    s.Premise,
		Statuses:   make(map[story.Phase]PhaseStatus, len(s.Statuses)),
		Outputs:    make(map[story.Phase]json.RawMessage, len(s.Outputs)),
		Warnings:   make(map[story.Phase][]string, len(s.Warnings)),
	}
	for p, st := range s.Statuses {
		snapshot.Statuses[p] = st
	}
	for p, out := range s.Outputs {
		snapshot.Outputs[p] = out
	}
	for p, w := range s.Warnings {
		snapshot.Warnings[p] = append([]string(nil), w...)
	}
	return snapshot
}
