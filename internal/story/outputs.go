package story

// StoryOverview is the approved output of phase 1: the campaign premise.
type StoryOverview struct {
	Title    string   `json:"title" validate:"required"`
	Premise  string   `json:"premise" validate:"required"`
	Setting  string   `json:"setting" validate:"required"`
	Tone     string   `json:"tone"`
	Themes   []string `json:"themes"`
	Hooks    []string `json:"hooks" validate:"required,min=1,dive,required"`
	Stakes   string   `json:"stakes"`
	TableTalk string  `json:"table_talk,omitempty"` // safety/table-expectation notes
}

// Skill is a single rated entry in a character's skill list. The rating
// range and the pyramid distribution are checked by CheckPyramid, which
// reports violations as warnings rather than schema failures.
type Skill struct {
	Name   string `json:"name" validate:"required"`
	Rating int    `json:"rating"`
}

// Character is one playable character from the phase 2 lineup.
type Character struct {
	Name       string  `json:"name" validate:"required"`
	Pronouns   string  `json:"pronouns"`
	Concept    string  `json:"concept" validate:"required"`
	Trouble    string  `json:"trouble"`
	Background string  `json:"background"`
	Skills     []Skill `json:"skills" validate:"dive"`
	Stunts     []string `json:"stunts"`
}

// Bond links two characters in the lineup by index.
type Bond struct {
	A           int    `json:"a" validate:"min=0"`
	B           int    `json:"b" validate:"min=0"`
	Description string `json:"description" validate:"required"`
}

// CharacterLineup is the approved output of phase 2.
type CharacterLineup struct {
	Characters []Character `json:"characters" validate:"required,min=1,dive"`
	Bonds      []Bond      `json:"bonds" validate:"dive"`
	Coverage   []string    `json:"coverage"` // niches the lineup collectively covers
}

// Clock is a faction's tracked project: a ticking threat or goal.
type Clock struct {
	Name     string `json:"name" validate:"required"`
	Segments int    `json:"segments" validate:"min=2"`
	Filled   int    `json:"filled" validate:"min=0,ltefield=Segments"`
	Tick     string `json:"tick"` // what advances it
}

// Faction is one power group from the phase 3 set.
type Faction struct {
	ID      string  `json:"id" validate:"required"`
	Name    string  `json:"name" validate:"required"`
	Agenda  string  `json:"agenda" validate:"required"`
	Methods string  `json:"methods"`
	Clocks  []Clock `json:"clocks" validate:"dive"`
}

// FactionRelation is a directed stance between two factions.
type FactionRelation struct {
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Stance string `json:"stance" validate:"required"`
}

// Front is an impending large-scale danger driven by one or more factions.
type Front struct {
	Name      string `json:"name" validate:"required"`
	Danger    string `json:"danger"`
	Impending string `json:"impending"`
}

// FactionSet is the approved output of phase 3.
type FactionSet struct {
	Factions      []Faction         `json:"factions" validate:"required,min=1,dive"`
	Relationships []FactionRelation `json:"relationships" validate:"dive"`
	Fronts        []Front           `json:"fronts" validate:"dive"`
}

// SceneNode is one addressable location/situation in the phase 4 web.
type SceneNode struct {
	ID       string   `json:"id" validate:"required"`
	Title    string   `json:"title" validate:"required"`
	Location string   `json:"location"`
	Scene    string   `json:"scene" validate:"required"` // the playable scene description
	Leads    []string `json:"leads"`                     // ids of nodes this one points toward
	KeyInfo  []string `json:"key_info"`                  // info tokens discoverable here
}

// NodeWeb is the approved output of phase 4.
type NodeWeb struct {
	Nodes []SceneNode `json:"nodes" validate:"required,min=1,dive"`
}

// Beat is a narrative objective unit within an act.
type Beat struct {
	ID           string   `json:"id" validate:"required"`
	Title        string   `json:"title" validate:"required"`
	Objective    string   `json:"objective"`
	RequiredInfo []string `json:"required_info"` // tokens that must be revealed to complete
}

// Arc is an escalation arc: an ordered run of beats inside one act.
type Arc struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title" validate:"required"`
	Act   int    `json:"act" validate:"min=1,max=3"`
	Beats []Beat `json:"beats" validate:"required,min=1,dive"`
}

// ArcSet is the approved output of phase 5.
type ArcSet struct {
	Arcs []Arc `json:"arcs" validate:"required,min=1,dive"`
}

// ResolutionPath is one way the campaign can conclude.
type ResolutionPath struct {
	PathID       string   `json:"path_id" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	Requirements []string `json:"requirements"`
	Epilogue     string   `json:"epilogue"`
}

// Twist is an optional late reveal attached to the resolution set.
type Twist struct {
	Reveal        string `json:"reveal" validate:"required"`
	Foreshadowing string `json:"foreshadowing"`
}

// ResolutionSet is the approved output of phase 6.
type ResolutionSet struct {
	ResolutionPaths []ResolutionPath `json:"resolution_paths" validate:"required,min=1,dive"`
	Twist           *Twist           `json:"twist,omitempty"`
}
