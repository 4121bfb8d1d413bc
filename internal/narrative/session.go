package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mscottkey/fable-engine/internal/config"
	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/models"
	"github.com/mscottkey/fable-engine/internal/pipeline"
	"github.com/mscottkey/fable-engine/internal/story"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions, narrative state, and the append-only
// event log.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.GameSession) error
	GetSession(ctx context.Context, id string) (*models.GameSession, error)
	ListSessions(ctx context.Context, campaignID string) ([]models.GameSession, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error

	AppendEvent(ctx context.Context, e *models.NarrativeEvent) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]models.NarrativeEvent, error)
	LatestEventNumber(ctx context.Context, sessionID string) (int64, error)

	GetSessionState(ctx context.Context, campaignID string) (*models.SessionState, error)
	SaveSessionState(ctx context.Context, s *models.SessionState) error
}

// StateCache serializes state merges per session and keeps the hot state
// close. Merges must apply in event order; the lease enforces one writer at
// a time per session.
type StateCache interface {
	AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (release func(), err error)
}

// Recall stores narrative memories and retrieves the ones related to an
// action. A recall failure degrades to empty context, never a blocked turn.
type Recall interface {
	Remember(ctx context.Context, campaignID, sessionID, kind, text string) error
	Related(ctx context.Context, campaignID, query string, limit int) ([]string, error)
}

// Broadcaster pushes committed narrative events to session spectators.
type Broadcaster interface {
	BroadcastEvent(sessionID string, payload any)
}

// SessionView is the result of starting a session.
type SessionView struct {
	Session   *models.GameSession    `json:"session"`
	Narration string                 `json:"narration"`
	Options   []story.DecisionOption `json:"options,omitempty"`
	Recap     bool                   `json:"recap"`
}

// ActionOutcome is the result of screening and (possibly) executing one
// player action.
type ActionOutcome struct {
	Classification story.IntentClassification `json:"classification"`
	// Proceeded is false when the action was held back for a divergence
	// warning; resubmit with proceed to run it anyway.
	Proceeded     bool                   `json:"proceeded"`
	Warning       string                 `json:"warning,omitempty"`
	Narration     string                 `json:"narration,omitempty"`
	Options       []story.DecisionOption `json:"options,omitempty"`
	DiceRolls     []story.DiceRoll       `json:"dice_rolls,omitempty"`
	BeatCompleted bool                   `json:"beat_completed"`
	ActTransition ActTransition          `json:"act_transition"`
}

// Runtime drives play sessions: bootstrapping narration, screening player
// actions, generating narrative turns, and advancing the state machine.
type Runtime struct {
	coordinator *pipeline.Coordinator
	generator   *engine.Generator
	classifier  *Classifier
	store       SessionStore
	cache       StateCache
	recall      Recall
	broadcaster Broadcaster
	logger      *zap.Logger
	cfg         config.SessionConfig

	mu   sync.Mutex
	seqs map[string]*atomic.Int64 // per-session event counter
}

func NewRuntime(
	coordinator *pipeline.Coordinator,
	generator *engine.Generator,
	classifier *Classifier,
	store SessionStore,
	cache StateCache,
	recall Recall,
	broadcaster Broadcaster,
	cfg config.SessionConfig,
	logger *zap.Logger,
) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		coordinator: coordinator,
		generator:   generator,
		classifier:  classifier,
		store:       store,
		cache:       cache,
		recall:      recall,
		broadcaster: broadcaster,
		logger:      logger,
		cfg:         cfg,
		seqs:        make(map[string]*atomic.Int64),
	}
}

// StartSession opens a play session. The first session of a campaign gets a
// synthetic opening narration from the overview's first hook; every later
// session gets a recap synthesized from the previous session's event log.
// Never both.
func (r *Runtime) StartSession(ctx context.Context, campaignID string) (*SessionView, error) {
	overview, arcs, err := r.campaignDocs(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	state, err := r.loadState(ctx, campaignID, arcs)
	if err != nil {
		return nil, err
	}

	session := &models.GameSession{
		ID:            uuid.NewString(),
		CampaignID:    campaignID,
		SessionNumber: state.SessionsPlayed + 1,
		Status:        "active",
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		return nil, &engine.Failure{Kind: engine.ErrPersistenceFailed, Message: "create session", Err: err}
	}

	var (
		result *engine.Result
		recap  = state.SessionsPlayed > 0
	)
	if !recap {
		result, err = r.generator.Opening(ctx, map[string]string{
			"overview": overview.Premise,
			"hook":     firstHook(overview),
		})
	} else {
		var events string
		events, err = r.previousSessionEvents(ctx, campaignID, session.ID)
		if err == nil {
			result, err = r.generator.Recap(ctx, map[string]string{
				"events": events,
				"act":    fmt.Sprintf("%d", state.CurrentActNumber),
				"beat":   state.CurrentBeatID,
			})
		}
	}
	if err != nil {
		// No orphaned active row: SessionsPlayed has not advanced, so the
		// next start reuses this session number.
		if uerr := r.store.UpdateSessionStatus(ctx, session.ID, "failed"); uerr != nil {
			r.logger.Warn("mark session failed", zap.String("session_id", session.ID), zap.Error(uerr))
		}
		return nil, err
	}
	turn := result.Data.(*story.NarrativeTurn)

	state.SessionsPlayed++
	if err := r.saveState(ctx, state); err != nil {
		return nil, err
	}

	event := &models.NarrativeEvent{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		EventNumber: r.nextSeq(ctx, session.ID),
		EventType:   "narration",
		Narration:   turn.Narration,
	}
	if err := r.commitEvent(ctx, campaignID, event, turn); err != nil {
		return nil, err
	}

	return &SessionView{
		Session:   session,
		Narration: turn.Narration,
		Options:   turn.Options,
		Recap:     recap,
	}, nil
}

// SubmitAction screens a player action and, unless it is held for a
// divergence warning, generates the narrative turn and merges its state
// delta. Set proceed to run the action regardless of the verdict.
func (r *Runtime) SubmitAction(ctx context.Context, sessionID, action string, proceed bool) (*ActionOutcome, error) {
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	campaignID := session.CampaignID

	_, arcs, err := r.campaignDocs(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	state, err := r.loadState(ctx, campaignID, arcs)
	if err != nil {
		return nil, err
	}

	beat, ok := findBeat(arcs, state.CurrentBeatID)
	if !ok {
		beat = firstBeatOfAct(arcs, state.CurrentActNumber)
	}

	recent, err := r.recentEventTexts(ctx, sessionID, 3)
	if err != nil {
		recent = nil // degraded classifier context, not an error
	}

	classification := r.classifier.Classify(ctx, action, beat, recent)

	outcome := &ActionOutcome{Classification: classification}
	if classification.Verdict == story.VerdictDivergent && !proceed {
		outcome.Warning = divergenceWarning(classification)
		return outcome, nil
	}

	turn, err := r.narrate(ctx, campaignID, sessionID, state, beat, action, recent)
	if err != nil {
		return nil, err
	}

	// Serialize the merge: deltas must land in event order per session.
	release, err := r.cache.AcquireLease(ctx, sessionID, r.cfg.MergeLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire merge lease: %w", err)
	}
	defer release()

	actionEvent := &models.NarrativeEvent{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		EventNumber:  r.nextSeq(ctx, sessionID),
		EventType:    "player_action",
		PlayerAction: action,
	}
	if err := r.store.AppendEvent(ctx, actionEvent); err != nil {
		return nil, &engine.Failure{Kind: engine.ErrPersistenceFailed, Message: "append action event", Err: err}
	}

	state.ApplyDelta(turn.Delta)

	if state.CheckBeatComplete(beat) {
		state.CompleteBeat(beat.ID)
		outcome.BeatCompleted = true

		transition := state.CheckActTransition(ActDef{
			Number:     state.CurrentActNumber,
			TotalBeats: beatsInAct(arcs, state.CurrentActNumber),
		})
		outcome.ActTransition = transition

		if next, ok := nextBeat(arcs, state); ok {
			state.CurrentBeatID = next.ID
		}
	}

	if err := r.saveState(ctx, state); err != nil {
		return nil, err
	}

	narrationEvent := &models.NarrativeEvent{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		EventNumber: r.nextSeq(ctx, sessionID),
		EventType:   "narration",
		Narration:   turn.Narration,
	}
	if err := r.commitEvent(ctx, campaignID, narrationEvent, turn); err != nil {
		return nil, err
	}

	outcome.Proceeded = true
	outcome.Narration = turn.Narration
	outcome.Options = turn.Options
	outcome.DiceRolls = turn.DiceRolls
	return outcome, nil
}

// EndSession marks a session finished.
func (r *Runtime) EndSession(ctx context.Context, sessionID string) error {
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return r.store.UpdateSessionStatus(ctx, sessionID, "ended")
}

// Events returns the latest events of a session in sequence order.
func (r *Runtime) Events(ctx context.Context, sessionID string, limit int) ([]models.NarrativeEvent, error) {
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return r.store.ListEvents(ctx, sessionID, limit)
}

func (r *Runtime) narrate(ctx context.Context, campaignID, sessionID string, state *StoryState, beat story.Beat, action string, recent []string) (*story.NarrativeTurn, error) {
	memories, err := r.recall.Related(ctx, campaignID, action, r.cfg.RecallLimit)
	if err != nil {
		memories = nil
	}

	worldState, err := json.Marshal(map[string]any{
		"world_facts":             state.WorldFacts,
		"location_states":         state.LocationStates,
		"npc_states":              state.NPCStates,
		"character_relationships": state.CharacterRelationships,
	})
	if err != nil {
		return nil, err
	}

	result, err := r.generator.NarrativeTurn(ctx, map[string]string{
		"act":            fmt.Sprintf("%d", state.CurrentActNumber),
		"beat":           beat.ID + ": " + beat.Title,
		"beat_objective": beat.Objective,
		"world_state":    string(worldState),
		"recent_events":  strings.Join(recent, "\n"),
		"memories":       strings.Join(memories, "\n"),
		"action":         action,
		"available_info": strings.Join(unrevealed(state, beat), ", "),
	})
	if err != nil {
		return nil, err
	}
	return result.Data.(*story.NarrativeTurn), nil
}

// commitEvent persists an event, then fans it out to spectators and the
// memory store. Fan-out is best-effort.
func (r *Runtime) commitEvent(ctx context.Context, campaignID string, event *models.NarrativeEvent, turn *story.NarrativeTurn) error {
	if turn != nil {
		if data, err := json.Marshal(turn.Delta); err == nil {
			event.WorldChanges = string(data)
		}
		if len(turn.DiceRolls) > 0 {
			if data, err := json.Marshal(turn.DiceRolls); err == nil {
				event.DiceRolls = string(data)
			}
		}
		if len(turn.Options) > 0 {
			if data, err := json.Marshal(turn.Options); err == nil {
				event.Options = string(data)
			}
		}
	}

	if err := r.store.AppendEvent(ctx, event); err != nil {
		return &engine.Failure{Kind: engine.ErrPersistenceFailed, Message: "append narration event", Err: err}
	}

	if r.broadcaster != nil {
		r.broadcaster.BroadcastEvent(event.SessionID, event)
	}

	text := event.Narration
	if text == "" {
		text = event.PlayerAction
	}
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.recall.Remember(rctx, campaignID, event.SessionID, event.EventType, text); err != nil {
			r.logger.Debug("memory store failed", zap.Error(err))
		}
	}()

	return nil
}

func (r *Runtime) loadState(ctx context.Context, campaignID string, arcs *story.ArcSet) (*StoryState, error) {
	row, err := r.store.GetSessionState(ctx, campaignID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			first := firstBeatOfAct(arcs, 1)
			return NewStoryState(campaignID, first.ID), nil
		}
		return nil, fmt.Errorf("load session state: %w", err)
	}
	return StateFromModel(row)
}

func (r *Runtime) saveState(ctx context.Context, state *StoryState) error {
	row, err := state.ToModel()
	if err != nil {
		return err
	}
	if err := r.store.SaveSessionState(ctx, row); err != nil {
		return &engine.Failure{Kind: engine.ErrPersistenceFailed, Message: "save session state", Err: err}
	}
	return nil
}

func (r *Runtime) campaignDocs(ctx context.Context, campaignID string) (*story.StoryOverview, *story.ArcSet, error) {
	overviewRaw, err := r.coordinator.Output(ctx, campaignID, story.PhaseOverview)
	if err != nil {
		return nil, nil, err
	}
	arcsRaw, err := r.coordinator.Output(ctx, campaignID, story.PhaseArcs)
	if err != nil {
		return nil, nil, err
	}

	var overview story.StoryOverview
	if err := json.Unmarshal(overviewRaw, &overview); err != nil {
		return nil, nil, fmt.Errorf("decode overview: %w", err)
	}
	var arcs story.ArcSet
	if err := json.Unmarshal(arcsRaw, &arcs); err != nil {
		return nil, nil, fmt.Errorf("decode arcs: %w", err)
	}
	return &overview, &arcs, nil
}

// previousSessionEvents renders the event log of the latest session before
// the one being opened.
func (r *Runtime) previousSessionEvents(ctx context.Context, campaignID, currentSessionID string) (string, error) {
	sessions, err := r.store.ListSessions(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}

	var previous *models.GameSession
	for i := range sessions {
		s := &sessions[i]
		if s.ID == currentSessionID || s.Status == "failed" {
			continue
		}
		if previous == nil || s.SessionNumber > previous.SessionNumber {
			previous = s
		}
	}
	if previous == nil {
		return "", errors.New("no previous session to recap")
	}

	events, err := r.store.ListEvents(ctx, previous.ID, r.cfg.RecapEventLimit)
	if err != nil {
		return "", fmt.Errorf("load previous events: %w", err)
	}

	var b strings.Builder
	for _, e := range events {
		switch e.EventType {
		case "player_action":
			fmt.Fprintf(&b, "[player] %s\n", e.PlayerAction)
		default:
			fmt.Fprintf(&b, "[narration] %s\n", e.Narration)
		}
	}
	return b.String(), nil
}

func (r *Runtime) recentEventTexts(ctx context.Context, sessionID string, limit int) ([]string, error) {
	events, err := r.store.ListEvents(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(events))
	for _, e := range events {
		if e.Narration != "" {
			texts = append(texts, "[narration] "+e.Narration)
		} else {
			texts = append(texts, "[player] "+e.PlayerAction)
		}
	}
	return texts, nil
}

// nextSeq hands out the next event number for a session, seeding the
// counter from the store on first use.
func (r *Runtime) nextSeq(ctx context.Context, sessionID string) int64 {
	r.mu.Lock()
	counter, ok := r.seqs[sessionID]
	if !ok {
		latest, err := r.store.LatestEventNumber(ctx, sessionID)
		if err != nil {
			latest = 0
		}
		counter = atomic.NewInt64(latest)
		r.seqs[sessionID] = counter
	}
	r.mu.Unlock()
	return counter.Inc()
}

func firstHook(overview *story.StoryOverview) string {
	if len(overview.Hooks) > 0 {
		return overview.Hooks[0]
	}
	return overview.Premise
}

func divergenceWarning(c story.IntentClassification) string {
	msg := "This action veers away from the current objective."
	if c.DivergenceReason != "" {
		msg = c.DivergenceReason
	}
	if c.AlternativeAction != "" {
		msg += " Consider: " + c.AlternativeAction
	}
	return msg
}

func unrevealed(state *StoryState, beat story.Beat) []string {
	var tokens []string
	for _, t := range beat.RequiredInfo {
		if !state.KeyInfoRevealed[t] {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func findBeat(arcs *story.ArcSet, beatID string) (story.Beat, bool) {
	for _, arc := range arcs.Arcs {
		for _, beat := range arc.Beats {
			if beat.ID == beatID {
				return beat, true
			}
		}
	}
	return story.Beat{}, false
}

func firstBeatOfAct(arcs *story.ArcSet, act int) story.Beat {
	for _, arc := range arcs.Arcs {
		if arc.Act == act && len(arc.Beats) > 0 {
			return arc.Beats[0]
		}
	}
	if len(arcs.Arcs) > 0 && len(arcs.Arcs[0].Beats) > 0 {
		return arcs.Arcs[0].Beats[0]
	}
	return story.Beat{}
}

// nextBeat picks the first beat of the current act not yet completed, in
// arc order.
func nextBeat(arcs *story.ArcSet, state *StoryState) (story.Beat, bool) {
	for _, arc := range arcs.Arcs {
		if arc.Act != state.CurrentActNumber {
			continue
		}
		for _, beat := range arc.Beats {
			if !state.BeatsCompletedInAct[beat.ID] {
				return beat, true
			}
		}
	}
	return story.Beat{}, false
}

func beatsInAct(arcs *story.ArcSet, act int) int {
	total := 0
	for _, arc := range arcs.Arcs {
		if arc.Act == act {
			total += len(arc.Beats)
		}
	}
	return total
}
