package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscottkey/fable-engine/internal/models"
	"github.com/mscottkey/fable-engine/internal/story"
)

func TestApplyDeltaLastWriteWins(t *testing.T) {
	s := NewStoryState("c1", "b1")

	s.ApplyDelta(story.StateDelta{
		WorldFacts: map[string]string{"seawall": "holding", "harbor": "quiet"},
		NPCStates:  map[string]string{"warden": "suspicious"},
	})
	s.ApplyDelta(story.StateDelta{
		WorldFacts: map[string]string{"seawall": "breached"},
	})

	// The newer value replaced the older one; untouched keys survive.
	assert.Equal(t, "breached", s.WorldFacts["seawall"])
	assert.Equal(t, "quiet", s.WorldFacts["harbor"])
	assert.Equal(t, "suspicious", s.NPCStates["warden"])
}

func TestApplyDeltaRevealsInfo(t *testing.T) {
	s := NewStoryState("c1", "b1")

	s.ApplyDelta(story.StateDelta{KeyInfoRevealed: []string{"who-broke-the-wall", ""}})
	assert.True(t, s.KeyInfoRevealed["who-broke-the-wall"])
	// Empty tokens are ignored.
	assert.False(t, s.KeyInfoRevealed[""])
}

func TestRevealInfoIdempotent(t *testing.T) {
	s := NewStoryState("c1", "b1")

	s.RevealInfo("token")
	s.RevealInfo("token")
	assert.Len(t, s.KeyInfoRevealed, 1)
}

func TestCheckBeatComplete(t *testing.T) {
	s := NewStoryState("c1", "b1")
	beat := story.Beat{ID: "b1", Title: "Find the breach", RequiredInfo: []string{"t1", "t2"}}

	assert.False(t, s.CheckBeatComplete(beat))

	s.RevealInfo("t1")
	assert.False(t, s.CheckBeatComplete(beat))

	s.RevealInfo("t2")
	assert.True(t, s.CheckBeatComplete(beat))

	// A beat with no requirements is trivially complete.
	assert.True(t, s.CheckBeatComplete(story.Beat{ID: "b2", Title: "Color scene"}))
}

func TestCompleteBeatIdempotent(t *testing.T) {
	s := NewStoryState("c1", "b1")

	s.CompleteBeat("b1")
	s.CompleteBeat("b1")
	s.CompleteBeat("")
	assert.Len(t, s.BeatsCompletedInAct, 1)
}

func TestCheckActTransition(t *testing.T) {
	t.Run("no transition while beats remain", func(t *testing.T) {
		s := NewStoryState("c1", "b1")
		s.CompleteBeat("b1")

		tr := s.CheckActTransition(ActDef{Number: 1, TotalBeats: 2})
		assert.False(t, tr.Transitioned)
		assert.Equal(t, 1, s.CurrentActNumber)
	})

	t.Run("transition resets beat set and progress", func(t *testing.T) {
		s := NewStoryState("c1", "b1")
		s.ActProgress = ProgressLate
		s.CompleteBeat("b1")
		s.CompleteBeat("b2")

		tr := s.CheckActTransition(ActDef{Number: 1, TotalBeats: 2})
		assert.True(t, tr.Transitioned)
		assert.Equal(t, 2, tr.NewAct)
		assert.Equal(t, 2, s.CurrentActNumber)
		assert.Empty(t, s.BeatsCompletedInAct)
		assert.Equal(t, ProgressEarly, s.ActProgress)
	})

	t.Run("final act never transitions", func(t *testing.T) {
		s := NewStoryState("c1", "b1")
		s.CurrentActNumber = story.MaxActNumber
		s.CompleteBeat("b1")

		tr := s.CheckActTransition(ActDef{Number: story.MaxActNumber, TotalBeats: 1})
		assert.False(t, tr.Transitioned)
		assert.Equal(t, story.MaxActNumber, s.CurrentActNumber)
		// The completed set is preserved; the campaign ends in fiction, not
		// in a fourth act.
		assert.True(t, s.BeatsCompletedInAct["b1"])
	})
}

func TestStateModelRoundTrip(t *testing.T) {
	s := NewStoryState("c1", "b1")
	s.CurrentActNumber = 2
	s.ActProgress = ProgressMid
	s.SessionsPlayed = 3
	s.RevealInfo("t1")
	s.CompleteBeat("b2")
	s.WorldFacts["seawall"] = "breached"
	s.LocationStates["docks"] = "flooded"
	s.NPCStates["warden"] = "missing"
	s.CharacterRelationships["vex-moss"] = "strained"

	row, err := s.ToModel()
	require.NoError(t, err)
	assert.Equal(t, "c1", row.CampaignID)

	restored, err := StateFromModel(row)
	require.NoError(t, err)

	assert.Equal(t, s.CurrentActNumber, restored.CurrentActNumber)
	assert.Equal(t, s.CurrentBeatID, restored.CurrentBeatID)
	assert.Equal(t, s.ActProgress, restored.ActProgress)
	assert.Equal(t, s.SessionsPlayed, restored.SessionsPlayed)
	assert.Equal(t, s.KeyInfoRevealed, restored.KeyInfoRevealed)
	assert.Equal(t, s.BeatsCompletedInAct, restored.BeatsCompletedInAct)
	assert.Equal(t, s.WorldFacts, restored.WorldFacts)
	assert.Equal(t, s.CharacterRelationships, restored.CharacterRelationships)
}

func TestStateFromModelEmptyRow(t *testing.T) {
	restored, err := StateFromModel(&models.SessionState{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.CurrentActNumber)
	assert.Equal(t, ProgressEarly, restored.ActProgress)
	assert.Empty(t, restored.WorldFacts)
}
