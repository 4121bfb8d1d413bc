package story

import (
	"fmt"
	"sort"
)

// skillPyramid is the required rating distribution for a character's ten
// skills: one +4, two +3, three +2, four +1.
var skillPyramid = map[int]int{4: 1, 3: 2, 2: 3, 1: 4}

// PyramidReport is the outcome of checking one character's skill ratings
// against the pyramid. Violations are advisory: generation still succeeds,
// callers surface the messages as warnings.
type PyramidReport struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// CheckPyramid verifies the skill pyramid invariant for one skill list.
// It reports one error per violated rank, plus one for any out-of-range
// rating present.
func CheckPyramid(skills []Skill) PyramidReport {
	counts := make(map[int]int)
	outOfRange := 0
	for _, s := range skills {
		if s.Rating < 1 || s.Rating > 4 {
			outOfRange++
			continue
		}
		counts[s.Rating]++
	}

	var errs []string
	ranks := make([]int, 0, len(skillPyramid))
	for rank := range skillPyramid {
		ranks = append(ranks, rank)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ranks)))

	for _, rank := range ranks {
		want := skillPyramid[rank]
		if got := counts[rank]; got != want {
			errs = append(errs, fmt.Sprintf("rating +%d: want %d skill(s), have %d", rank, want, got))
		}
	}
	if outOfRange > 0 {
		errs = append(errs, fmt.Sprintf("%d skill(s) rated outside +1..+4", outOfRange))
	}

	return PyramidReport{Valid: len(errs) == 0, Errors: errs}
}

// CheckLineupPyramids runs the pyramid check over a whole lineup and returns
// warning strings prefixed with the character's name.
func CheckLineupPyramids(lineup *CharacterLineup) []string {
	var warnings []string
	for _, ch := range lineup.Characters {
		report := CheckPyramid(ch.Skills)
		if report.Valid {
			continue
		}
		for _, msg := range report.Errors {
			warnings = append(warnings, fmt.Sprintf("%s: %s", ch.Name, msg))
		}
	}
	return warnings
}
