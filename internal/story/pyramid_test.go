package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func skillsFromRatings(ratings []int) []Skill {
	names := []string{
		"Fight", "Shoot", "Athletics", "Physique", "Stealth",
		"Deceive", "Rapport", "Notice", "Lore", "Will",
	}
	skills := make([]Skill, len(ratings))
	for i, r := range ratings {
		skills[i] = Skill{Name: names[i%len(names)], Rating: r}
	}
	return skills
}

func TestCheckPyramid(t *testing.T) {
	t.Run("valid pyramid", func(t *testing.T) {
		report := CheckPyramid(skillsFromRatings([]int{4, 3, 3, 2, 2, 2, 1, 1, 1, 1}))
		assert.True(t, report.Valid)
		assert.Empty(t, report.Errors)
	})

	t.Run("one error per violated rank", func(t *testing.T) {
		// Two +4 skills and zero +1 skills: exactly two violations.
		report := CheckPyramid(skillsFromRatings([]int{4, 4, 3, 3, 2, 2, 2, 2, 2, 2}))
		assert.False(t, report.Valid)
		assert.Len(t, report.Errors, 3) // +4 count, +2 count, +1 count
	})

	t.Run("ordering is descending by rank", func(t *testing.T) {
		report := CheckPyramid(skillsFromRatings([]int{4, 4, 3, 2, 2, 2, 1, 1, 1, 1}))
		assert.False(t, report.Valid)
		assert.Len(t, report.Errors, 2)
		assert.Contains(t, report.Errors[0], "+4")
		assert.Contains(t, report.Errors[1], "+3")
	})

	t.Run("out of range rating", func(t *testing.T) {
		report := CheckPyramid(skillsFromRatings([]int{5, 3, 3, 2, 2, 2, 1, 1, 1, 1}))
		assert.False(t, report.Valid)
	})
}

func TestCheckLineupPyramids(t *testing.T) {
	lineup := &CharacterLineup{
		Characters: []Character{
			{Name: "Vex", Skills: skillsFromRatings([]int{4, 3, 3, 2, 2, 2, 1, 1, 1, 1})},
			{Name: "Moss", Skills: skillsFromRatings([]int{4, 4, 3, 2, 2, 2, 1, 1, 1, 1})},
		},
	}

	warnings := CheckLineupPyramids(lineup)
	assert.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Contains(t, w, "Moss")
	}
}
