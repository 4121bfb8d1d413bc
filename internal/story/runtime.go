package story

// StateDelta is the set of world changes one narrative turn produces. Keys
// are merged last-write-wins per category; the state machine owns the merge.
type StateDelta struct {
	WorldFacts             map[string]string `json:"world_facts,omitempty"`
	LocationStates         map[string]string `json:"location_states,omitempty"`
	NPCStates              map[string]string `json:"npc_states,omitempty"`
	CharacterRelationships map[string]string `json:"character_relationships,omitempty"`
	KeyInfoRevealed        []string          `json:"key_info_revealed,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d StateDelta) Empty() bool {
	return len(d.WorldFacts) == 0 &&
		len(d.LocationStates) == 0 &&
		len(d.NPCStates) == 0 &&
		len(d.CharacterRelationships) == 0 &&
		len(d.KeyInfoRevealed) == 0
}

// DiceRoll is an opaque record of a roll the narrator reported. The engine
// does not resolve dice; it only carries them through the event log.
type DiceRoll struct {
	Expression string `json:"expression"`
	Skill      string `json:"skill,omitempty"`
	Result     int    `json:"result"`
}

// DecisionOption is one suggested follow-up action offered to the player.
type DecisionOption struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// NarrativeTurn is the structured output of one runtime narration call.
type NarrativeTurn struct {
	Narration string           `json:"narration" validate:"required"`
	Delta     StateDelta       `json:"state_delta"`
	DiceRolls []DiceRoll       `json:"dice_rolls,omitempty"`
	Options   []DecisionOption `json:"options,omitempty" validate:"dive"`
}

// Intent verdicts for a screened player action.
const (
	VerdictOnTrack   = "on-track"
	VerdictTangent   = "tangent"
	VerdictDivergent = "divergent"
)

// IntentClassification is the advisory result of screening a player action
// against the current beat. It never blocks the action by itself.
type IntentClassification struct {
	Verdict           string `json:"verdict" validate:"required,oneof=on-track tangent divergent"`
	IsOnTrack         bool   `json:"is_on_track"`
	Confidence        int    `json:"confidence" validate:"min=0,max=100"`
	IntendedBeat      string `json:"intended_beat,omitempty"`
	DivergenceReason  string `json:"divergence_reason,omitempty"`
	AlternativeAction string `json:"alternative_action,omitempty"`
}
