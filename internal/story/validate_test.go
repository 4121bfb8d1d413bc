package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePhaseOutput(t *testing.T) {
	v := NewValidator()

	t.Run("valid overview", func(t *testing.T) {
		out, err := v.DecodePhaseOutput(PhaseOverview, []byte(`{"title":"T","premise":"P","setting":"S","hooks":["h"]}`))
		require.NoError(t, err)
		overview := out.(*StoryOverview)
		assert.Equal(t, "T", overview.Title)
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := v.DecodePhaseOutput(PhaseOverview, []byte(`{"title":"T"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema")
	})

	t.Run("hooks must not be empty", func(t *testing.T) {
		_, err := v.DecodePhaseOutput(PhaseOverview, []byte(`{"title":"T","premise":"P","setting":"S","hooks":[]}`))
		assert.Error(t, err)
	})

	t.Run("clock filled bounded by segments", func(t *testing.T) {
		_, err := v.DecodePhaseOutput(PhaseFactions, []byte(`{"factions":[{"id":"f1","name":"N","agenda":"A","clocks":[{"name":"C","segments":4,"filled":6}]}]}`))
		assert.Error(t, err)
	})

	t.Run("arc act bounded", func(t *testing.T) {
		_, err := v.DecodePhaseOutput(PhaseArcs, []byte(`{"arcs":[{"id":"a1","title":"T","act":4,"beats":[{"id":"b1","title":"B"}]}]}`))
		assert.Error(t, err)
	})
}

func TestDecodeFragment(t *testing.T) {
	v := NewValidator()

	t.Run("scene patch", func(t *testing.T) {
		out, err := v.DecodeFragment(SceneTarget("n1"), []byte(`{"scene":"The warehouse is underwater now."}`))
		require.NoError(t, err)
		patch := out.(*ScenePatch)
		assert.Contains(t, patch.Scene, "underwater")
	})

	t.Run("skill shortfall decodes, pyramid flags it", func(t *testing.T) {
		out, err := v.DecodeFragment(CharacterTarget(0), []byte(`{"name":"Vex","concept":"Diver","skills":[{"name":"Fight","rating":4}]}`))
		require.NoError(t, err)
		ch := out.(*Character)
		assert.False(t, CheckPyramid(ch.Skills).Valid)
	})

	t.Run("out-of-range rating decodes, pyramid flags it", func(t *testing.T) {
		out, err := v.DecodeFragment(CharacterTarget(0), []byte(`{"name":"Vex","concept":"Diver","skills":[{"name":"Fight","rating":5}]}`))
		require.NoError(t, err)
		ch := out.(*Character)
		report := CheckPyramid(ch.Skills)
		assert.False(t, report.Valid)
	})

	t.Run("epilogues patch", func(t *testing.T) {
		out, err := v.DecodeFragment(EpiloguesTarget(), []byte(`{"epilogues":{"p1":"The city drains at last."}}`))
		require.NoError(t, err)
		patch := out.(*EpiloguesPatch)
		assert.Len(t, patch.Epilogues, 1)
	})
}

func TestTargetValidForPhase(t *testing.T) {
	assert.True(t, FactionTarget("f1").ValidForPhase(PhaseFactions))
	assert.False(t, FactionTarget("f1").ValidForPhase(PhaseNodes))
	assert.False(t, CharacterTarget(0).ValidForPhase(PhaseOverview))
	assert.True(t, BeatTarget("a1", "b1").ValidForPhase(PhaseArcs))
	assert.True(t, EpiloguesTarget().ValidForPhase(PhaseResolutions))
}
