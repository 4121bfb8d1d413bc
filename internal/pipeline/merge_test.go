package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscottkey/fable-engine/internal/story"
)

func TestApplyFragmentPinsClockName(t *testing.T) {
	agg := &story.FactionSet{
		Factions: []story.Faction{{
			ID:     "f1",
			Name:   "Tide Wardens",
			Agenda: "Hold the seawall",
			Clocks: []story.Clock{
				{Name: "Seawall Breach", Segments: 6, Filled: 2},
				{Name: "Choir Ascendant", Segments: 4, Filled: 1},
			},
		}},
	}

	fragment := &story.Clock{Name: "Renamed Breach", Segments: 8, Filled: 0, Tick: "each flood tide"}
	require.NoError(t, applyFragment(agg, story.ClockTarget("f1", "Seawall Breach"), fragment))

	// The clock keeps its addressed name so a follow-up regen of the same
	// clock still resolves; the rest of the fragment lands.
	clock := agg.Factions[0].Clocks[0]
	assert.Equal(t, "Seawall Breach", clock.Name)
	assert.Equal(t, 8, clock.Segments)
	assert.Equal(t, 0, clock.Filled)
	assert.Equal(t, "each flood tide", clock.Tick)

	// Sibling clock untouched.
	assert.Equal(t, "Choir Ascendant", agg.Factions[0].Clocks[1].Name)
}
