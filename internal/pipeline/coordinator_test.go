package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/llm"
	"github.com/mscottkey/fable-engine/internal/models"
	"github.com/mscottkey/fable-engine/internal/prompts"
	"github.com/mscottkey/fable-engine/internal/story"
)

type fakeClient struct {
	replies []string
	calls   int
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		return nil, errors.New("unscripted completion call")
	}
	return &llm.Response{Content: f.replies[i], Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

type memStore struct {
	campaigns map[string]*models.Campaign
	records   map[string]map[int]models.PhaseRecord
	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[string]*models.Campaign),
		records:   make(map[string]map[int]models.PhaseRecord),
	}
}

func (s *memStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	s.campaigns[c.ID] = c
	return nil
}

func (s *memStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func (s *memStore) SavePhaseRecord(ctx context.Context, rec *models.PhaseRecord) error {
	if s.failSaves {
		return errors.New("disk full")
	}
	if s.records[rec.CampaignID] == nil {
		s.records[rec.CampaignID] = make(map[int]models.PhaseRecord)
	}
	s.records[rec.CampaignID][rec.PhaseNumber] = *rec
	return nil
}

func (s *memStore) ListPhaseRecords(ctx context.Context, campaignID string) ([]models.PhaseRecord, error) {
	var out []models.PhaseRecord
	for _, rec := range s.records[campaignID] {
		out = append(out, rec)
	}
	return out, nil
}

const (
	overviewJSON = `{"title":"The Drowned Quarter","premise":"A flooded city hides a sunken god.","setting":"Harbor city","hooks":["The tide recedes too far"]}`

	lineupJSON = `{"characters":[{"name":"Vex","concept":"Diver","skills":[{"name":"Fight","rating":4},{"name":"Shoot","rating":3},{"name":"Athletics","rating":3},{"name":"Physique","rating":2},{"name":"Stealth","rating":2},{"name":"Deceive","rating":2},{"name":"Rapport","rating":1},{"name":"Notice","rating":1},{"name":"Lore","rating":1},{"name":"Will","rating":1}]}]}`

	factionsJSON = `{"factions":[{"id":"f1","name":"Tide Wardens","agenda":"Hold the seawall"},{"id":"f2","name":"Salt Cartel","agenda":"Corner the fresh water market"},{"id":"f3","name":"Drowned Choir","agenda":"Wake the sunken god"}]}`
)

func newTestCoordinator(replies ...string) (*Coordinator, *fakeClient, *memStore) {
	client := &fakeClient{replies: replies}
	store := newMemStore()
	generator := engine.NewGenerator(client, prompts.Defaults(), nil)
	return NewCoordinator(generator, store, nil), client, store
}

func approveThroughFactions(t *testing.T, c *Coordinator, campaignID string) {
	t.Helper()
	for _, phase := range []story.Phase{story.PhaseOverview, story.PhaseCharacters, story.PhaseFactions} {
		_, err := c.RunPhase(context.Background(), campaignID, phase, story.OpInitial, RunOptions{})
		require.NoError(t, err)
	}
}

func TestRunPhaseGating(t *testing.T) {
	c, client, _ := newTestCoordinator(overviewJSON)

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)

	t.Run("later phase locked before prior approval", func(t *testing.T) {
		_, err := c.RunPhase(context.Background(), state.CampaignID, story.PhaseCharacters, story.OpInitial, RunOptions{})
		assert.ErrorIs(t, err, ErrPhaseLocked)
		// The rejection happens before any completion call.
		assert.Zero(t, client.calls)
	})

	t.Run("regen locked before approval", func(t *testing.T) {
		target := story.CharacterTarget(0)
		_, err := c.RunPhase(context.Background(), state.CampaignID, story.PhaseCharacters, story.OpRegen, RunOptions{Target: &target})
		assert.ErrorIs(t, err, ErrPhaseNotApproved)
		assert.Zero(t, client.calls)
	})

	t.Run("initial approves and locks re-run", func(t *testing.T) {
		_, err := c.RunPhase(context.Background(), state.CampaignID, story.PhaseOverview, story.OpInitial, RunOptions{})
		require.NoError(t, err)

		pipeline, err := c.Pipeline(context.Background(), state.CampaignID)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, pipeline.Statuses[story.PhaseOverview])

		_, err = c.RunPhase(context.Background(), state.CampaignID, story.PhaseOverview, story.OpInitial, RunOptions{})
		assert.ErrorIs(t, err, ErrPhaseAlreadyApproved)
	})
}

func TestRunPhaseRegenIsolation(t *testing.T) {
	regenReply := `{"id":"f9-renamed","name":"Brine Syndicate","agenda":"Own the flooded docks"}`
	c, client, _ := newTestCoordinator(overviewJSON, lineupJSON, factionsJSON, regenReply)

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)
	approveThroughFactions(t, c, state.CampaignID)

	target := story.FactionTarget("f2")
	_, err = c.RunPhase(context.Background(), state.CampaignID, story.PhaseFactions, story.OpRegen, RunOptions{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, 4, client.calls)

	raw, err := c.Output(context.Background(), state.CampaignID, story.PhaseFactions)
	require.NoError(t, err)

	var set story.FactionSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Factions, 3)

	// Siblings and ordering untouched.
	assert.Equal(t, "f1", set.Factions[0].ID)
	assert.Equal(t, "Tide Wardens", set.Factions[0].Name)
	assert.Equal(t, "f3", set.Factions[2].ID)

	// The replacement landed in place, with its id pinned to the addressed
	// value even though the fragment renamed it.
	assert.Equal(t, "f2", set.Factions[1].ID)
	assert.Equal(t, "Brine Syndicate", set.Factions[1].Name)
}

func TestRunPhaseRegenInvalidTarget(t *testing.T) {
	c, client, _ := newTestCoordinator(overviewJSON, lineupJSON, factionsJSON)

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)
	approveThroughFactions(t, c, state.CampaignID)
	callsBefore := client.calls

	t.Run("missing element", func(t *testing.T) {
		target := story.FactionTarget("no-such-faction")
		_, err := c.RunPhase(context.Background(), state.CampaignID, story.PhaseFactions, story.OpRegen, RunOptions{Target: &target})
		require.Error(t, err)
		assert.Equal(t, engine.ErrInvalidTarget, engine.KindOf(err))
		assert.Equal(t, callsBefore, client.calls)
	})

	t.Run("wrong phase for target kind", func(t *testing.T) {
		target := story.NodeTarget("n1")
		_, err := c.RunPhase(context.Background(), state.CampaignID, story.PhaseFactions, story.OpRegen, RunOptions{Target: &target})
		require.Error(t, err)
		assert.Equal(t, engine.ErrInvalidTarget, engine.KindOf(err))
		assert.Equal(t, callsBefore, client.calls)
	})

	t.Run("no target at all", func(t *testing.T) {
		_, err := c.RunPhase(context.Background(), state.CampaignID, story.PhaseFactions, story.OpRegen, RunOptions{})
		require.Error(t, err)
		assert.Equal(t, engine.ErrInvalidTarget, engine.KindOf(err))
		assert.Equal(t, callsBefore, client.calls)
	})
}

func TestRunPhaseRemixReplacesWholesale(t *testing.T) {
	remixReply := `{"factions":[{"id":"g1","name":"Glass Parliament","agenda":"Rule from the lighthouse"}]}`
	c, _, _ := newTestCoordinator(overviewJSON, lineupJSON, factionsJSON, remixReply)

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)
	approveThroughFactions(t, c, state.CampaignID)

	_, err = c.RunPhase(context.Background(), state.CampaignID, story.PhaseFactions, story.OpRemix, RunOptions{RemixBrief: "political thriller, no cults"})
	require.NoError(t, err)

	raw, err := c.Output(context.Background(), state.CampaignID, story.PhaseFactions)
	require.NoError(t, err)

	var set story.FactionSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Factions, 1)
	assert.Equal(t, "Glass Parliament", set.Factions[0].Name)
}

func TestRunPhasePersistenceFailureSurfaces(t *testing.T) {
	c, _, store := newTestCoordinator(overviewJSON)

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)

	store.failSaves = true
	_, err = c.RunPhase(context.Background(), state.CampaignID, story.PhaseOverview, story.OpInitial, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, engine.ErrPersistenceFailed, engine.KindOf(err))

	// The phase did not approve.
	pipeline, err := c.Pipeline(context.Background(), state.CampaignID)
	require.NoError(t, err)
	assert.NotEqual(t, StatusApproved, pipeline.Statuses[story.PhaseOverview])
}

func TestRunPhaseRegenFailureKeepsAggregate(t *testing.T) {
	c, _, _ := newTestCoordinator(overviewJSON, lineupJSON, factionsJSON, "not json", "still not json")

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)
	approveThroughFactions(t, c, state.CampaignID)

	target := story.FactionTarget("f2")
	_, err = c.RunPhase(context.Background(), state.CampaignID, story.PhaseFactions, story.OpRegen, RunOptions{Target: &target})
	require.Error(t, err)
	assert.Equal(t, engine.ErrParseFailed, engine.KindOf(err))

	// The approved aggregate is untouched and the phase is still approved.
	raw, err := c.Output(context.Background(), state.CampaignID, story.PhaseFactions)
	require.NoError(t, err)

	var set story.FactionSet
	require.NoError(t, json.Unmarshal(raw, &set))
	assert.Equal(t, "Salt Cartel", set.Factions[1].Name)
}

func TestCoordinatorHydratesFromStore(t *testing.T) {
	c, _, store := newTestCoordinator(overviewJSON)

	state, err := c.CreateCampaign(context.Background(), "Drowned", "flooded city noir")
	require.NoError(t, err)
	_, err = c.RunPhase(context.Background(), state.CampaignID, story.PhaseOverview, story.OpInitial, RunOptions{})
	require.NoError(t, err)

	// A fresh coordinator over the same store sees the approved phase.
	rebuilt := NewCoordinator(engine.NewGenerator(&fakeClient{}, prompts.Defaults(), nil), store, nil)
	pipeline, err := rebuilt.Pipeline(context.Background(), state.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, pipeline.Statuses[story.PhaseOverview])

	raw, err := rebuilt.Output(context.Background(), state.CampaignID, story.PhaseOverview)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Drowned Quarter")
}
