package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign is one generated campaign and the root of its phase chain.
type Campaign struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	Title     string         `gorm:"size:255" json:"title"`
	Premise   string         `gorm:"type:text" json:"premise"`
	Status    string         `gorm:"size:32" json:"status"` // "drafting", "ready", "abandoned"
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// PhaseRecord is one approved phase output, keyed by (campaign, phase) and
// chained to the prior phase's record.
type PhaseRecord struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	CampaignID   string    `gorm:"index:idx_campaign_phase,unique;size:64" json:"campaign_id"`
	PhaseNumber  int       `gorm:"index:idx_campaign_phase,unique" json:"phase_number"`
	PrevRecordID string    `gorm:"size:64" json:"prev_record_id"` // linear chain to the prior phase
	Status       string    `gorm:"size:32" json:"status"`
	Output       string    `gorm:"type:mediumtext" json:"-"` // serialized phase output JSON
	Warnings     string    `gorm:"type:text" json:"-"`       // newline-joined advisory warnings
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GameSession is one play session of a campaign.
type GameSession struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	CampaignID    string    `gorm:"index;size:64" json:"campaign_id"`
	SessionNumber int       `json:"session_number"`
	Status        string    `gorm:"size:32" json:"status"` // "active", "ended"
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SessionState is the persisted narrative state for a campaign. One row per
// campaign, mutated only through the narrative state machine.
type SessionState struct {
	CampaignID             string    `gorm:"primaryKey;size:64" json:"campaign_id"`
	CurrentActNumber       int       `json:"current_act_number"`
	CurrentBeatID          string    `gorm:"size:128" json:"current_beat_id"`
	ActProgress            string    `gorm:"size:32" json:"act_progress"` // "early", "mid", "late"
	KeyInfoRevealed        string    `gorm:"type:text" json:"-"`          // JSON array
	ActBeatsCompleted      string    `gorm:"type:text" json:"-"`          // JSON array
	WorldFacts             string    `gorm:"type:text" json:"-"`          // JSON object
	LocationStates         string    `gorm:"type:text" json:"-"`          // JSON object
	NPCStates              string    `gorm:"type:text" json:"-"`          // JSON object
	CharacterRelationships string    `gorm:"type:text" json:"-"`          // JSON object
	SessionsPlayed         int       `json:"sessions_played"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NarrativeEvent is one append-only entry in a session's event log,
// immutable once written and ordered by EventNumber within the session.
type NarrativeEvent struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	SessionID    string    `gorm:"index:idx_session_event,unique;size:64" json:"session_id"`
	EventNumber  int64     `gorm:"index:idx_session_event,unique" json:"event_number"`
	EventType    string    `gorm:"size:32" json:"event_type"` // "player_action", "narration"
	PlayerAction string    `gorm:"type:text" json:"player_action,omitempty"`
	Narration    string    `gorm:"type:text" json:"narration,omitempty"`
	WorldChanges string    `gorm:"type:text" json:"-"` // serialized StateDelta
	DiceRolls    string    `gorm:"type:text" json:"-"` // serialized rolls
	Options      string    `gorm:"type:text" json:"-"` // serialized decision options
	CreatedAt    time.Time `json:"created_at"`
}
