package narrative

import (
	"encoding/json"
	"fmt"

	"github.com/mscottkey/fable-engine/internal/models"
	"github.com/mscottkey/fable-engine/internal/story"
)

// Act progress markers.
const (
	ProgressEarly = "early"
	ProgressMid   = "mid"
	ProgressLate  = "late"
)

// StoryState is the runtime narrative state of one campaign. It is owned
// exclusively by the state machine in this package: no other component
// writes it, and all mutation goes through ApplyDelta and the beat/act
// check functions.
type StoryState struct {
	CampaignID          string          `json:"campaign_id"`
	CurrentActNumber    int             `json:"current_act_number"`
	CurrentBeatID       string          `json:"current_beat_id"`
	ActProgress         string          `json:"act_progress"`
	BeatsCompletedInAct map[string]bool `json:"beats_completed_in_act"`
	KeyInfoRevealed     map[string]bool `json:"key_info_revealed"`

	WorldFacts             map[string]string `json:"world_facts"`
	LocationStates         map[string]string `json:"location_states"`
	NPCStates              map[string]string `json:"npc_states"`
	CharacterRelationships map[string]string `json:"character_relationships"`

	SessionsPlayed int `json:"sessions_played"`
}

// NewStoryState creates the initial state for a campaign's first session.
func NewStoryState(campaignID, firstBeatID string) *StoryState {
	return &StoryState{
		CampaignID:             campaignID,
		CurrentActNumber:       1,
		CurrentBeatID:          firstBeatID,
		ActProgress:            ProgressEarly,
		BeatsCompletedInAct:    make(map[string]bool),
		KeyInfoRevealed:        make(map[string]bool),
		WorldFacts:             make(map[string]string),
		LocationStates:         make(map[string]string),
		NPCStates:              make(map[string]string),
		CharacterRelationships: make(map[string]string),
	}
}

// ApplyDelta merges one turn's state changes: a shallow key-wise union per
// category where incoming values win (last-write-wins, no deep merge).
// Callers must apply deltas in event order; an out-of-order merge can
// clobber newer state with older values.
func (s *StoryState) ApplyDelta(delta story.StateDelta) {
	mergeInto(s.WorldFacts, delta.WorldFacts)
	mergeInto(s.LocationStates, delta.LocationStates)
	mergeInto(s.NPCStates, delta.NPCStates)
	mergeInto(s.CharacterRelationships, delta.CharacterRelationships)
	for _, token := range delta.KeyInfoRevealed {
		s.RevealInfo(token)
	}
}

func mergeInto(dst map[string]string, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// RevealInfo marks a key-information token as revealed. Revealing an
// already-present token is a no-op.
func (s *StoryState) RevealInfo(token string) {
	if token == "" {
		return
	}
	s.KeyInfoRevealed[token] = true
}

// CheckBeatComplete reports whether every token the beat requires has been
// revealed.
func (s *StoryState) CheckBeatComplete(beat story.Beat) bool {
	for _, token := range beat.RequiredInfo {
		if !s.KeyInfoRevealed[token] {
			return false
		}
	}
	return true
}

// CompleteBeat records a completed beat. Idempotent.
func (s *StoryState) CompleteBeat(beatID string) {
	if beatID == "" {
		return
	}
	s.BeatsCompletedInAct[beatID] = true
}

// ActDef describes the current act for transition checking.
type ActDef struct {
	Number     int
	TotalBeats int
}

// ActTransition reports the outcome of an act-transition check.
type ActTransition struct {
	Transitioned bool `json:"transitioned"`
	NewAct       int  `json:"new_act,omitempty"`
}

// CheckActTransition advances to the next act when every beat of the
// current act is complete. The campaign never transitions beyond the final
// act; it ends by narrative content, not by this machine.
func (s *StoryState) CheckActTransition(act ActDef) ActTransition {
	if len(s.BeatsCompletedInAct) < act.TotalBeats {
		return ActTransition{}
	}
	if s.CurrentActNumber >= story.MaxActNumber {
		return ActTransition{}
	}

	s.CurrentActNumber++
	s.BeatsCompletedInAct = make(map[string]bool)
	s.ActProgress = ProgressEarly
	return ActTransition{Transitioned: true, NewAct: s.CurrentActNumber}
}

// setKeys renders a string set as a sorted-insensitive JSON array.
func setKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// ToModel serializes the state for persistence.
func (s *StoryState) ToModel() (*models.SessionState, error) {
	keyInfo, err := json.Marshal(setKeys(s.KeyInfoRevealed))
	if err != nil {
		return nil, err
	}
	beats, err := json.Marshal(setKeys(s.BeatsCompletedInAct))
	if err != nil {
		return nil, err
	}
	world, err := json.Marshal(s.WorldFacts)
	if err != nil {
		return nil, err
	}
	locations, err := json.Marshal(s.LocationStates)
	if err != nil {
		return nil, err
	}
	npcs, err := json.Marshal(s.NPCStates)
	if err != nil {
		return nil, err
	}
	relationships, err := json.Marshal(s.CharacterRelationships)
	if err != nil {
		return nil, err
	}

	return &models.SessionState{
		CampaignID:             s.CampaignID,
		CurrentActNumber:       s.CurrentActNumber,
		CurrentBeatID:          s.CurrentBeatID,
		ActProgress:            s.ActProgress,
		KeyInfoRevealed:        string(keyInfo),
		ActBeatsCompleted:      string(beats),
		WorldFacts:             string(world),
		LocationStates:         string(locations),
		NPCStates:              string(npcs),
		CharacterRelationships: string(relationships),
		SessionsPlayed:         s.SessionsPlayed,
	}, nil
}

// StateFromModel deserializes a persisted state row.
func StateFromModel(m *models.SessionState) (*StoryState, error) {
	s := NewStoryState(m.CampaignID, m.CurrentBeatID)
	s.CurrentActNumber = m.CurrentActNumber
	if s.CurrentActNumber < 1 {
		s.CurrentActNumber = 1
	}
	if m.ActProgress != "" {
		s.ActProgress = m.ActProgress
	}
	s.SessionsPlayed = m.SessionsPlayed

	if err := decodeSet(m.KeyInfoRevealed, s.KeyInfoRevealed); err != nil {
		return nil, fmt.Errorf("decode key info: %w", err)
	}
	if err := decodeSet(m.ActBeatsCompleted, s.BeatsCompletedInAct); err != nil {
		return nil, fmt.Errorf("decode completed beats: %w", err)
	}
	if err := decodeMap(m.WorldFacts, s.WorldFacts); err != nil {
		return nil, fmt.Errorf("decode world facts: %w", err)
	}
	if err := decodeMap(m.LocationStates, s.LocationStates); err != nil {
		return nil, fmt.Errorf("decode location states: %w", err)
	}
	if err := decodeMap(m.NPCStates, s.NPCStates); err != nil {
		return nil, fmt.Errorf("decode npc states: %w", err)
	}
	if err := decodeMap(m.CharacterRelationships, s.CharacterRelationships); err != nil {
		return nil, fmt.Errorf("decode relationships: %w", err)
	}
	return s, nil
}

func decodeSet(raw string, dst map[string]bool) error {
	if raw == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return err
	}
	for _, k := range keys {
		dst[k] = true
	}
	return nil
}

func decodeMap(raw string, dst map[string]string) error {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}
	for k, v := range m {
		dst[k] = v
	}
	return nil
}
