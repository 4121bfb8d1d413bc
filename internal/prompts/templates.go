package prompts

import (
	"fmt"

	"github.com/mscottkey/fable-engine/internal/story"
)

// phasePrompt holds the instruction bodies for one generation phase.
type phasePrompt struct {
	system string
	user   string
	shape  string // JSON shape reminder appended to user/remix/regen prompts
}

var phasePrompts = map[story.Phase]phasePrompt{
	story.PhaseOverview: {
		system: `You are a veteran tabletop-RPG campaign designer. You write tight, playable
story premises. Respond with a single JSON object and nothing else.`,
		user: `Design a campaign premise from this seed:

{{premise}}

{{feedback}}

Ground the premise in a concrete setting, name the stakes, and offer at least
three distinct opening hooks the table can bite on.`,
		shape: `{"title","premise","setting","tone","themes":[],"hooks":[],"stakes","table_talk"}`,
	},
	story.PhaseCharacters: {
		system: `You are a veteran tabletop-RPG campaign designer building a playable character
lineup for an approved premise. Respond with a single JSON object and nothing else.`,
		user: `Approved campaign material:

{{context}}

{{feedback}}

Create a lineup of player characters with bonds between them. Each character
carries exactly ten rated skills forming a pyramid: one at +4, two at +3,
three at +2, four at +1. List which niches the lineup covers.`,
		shape: `{"characters":[{"name","pronouns","concept","trouble","background","skills":[{"name","rating"}],"stunts":[]}],"bonds":[{"a","b","description"}],"coverage":[]}`,
	},
	story.PhaseFactions: {
		system: `You are a veteran tabletop-RPG campaign designer charting the powers at play in
an approved campaign. Respond with a single JSON object and nothing else.`,
		user: `Approved campaign material:

{{context}}

{{feedback}}

Create the factions driving this campaign. Give each faction a stable id, an
agenda, and project clocks (segments plus current fill) for what it is
working toward. Chart the stances between factions and the fronts looming
over the region.`,
		shape: `{"factions":[{"id","name","agenda","methods","clocks":[{"name","segments","filled","tick"}]}],"relationships":[{"from","to","stance"}],"fronts":[{"name","danger","impending"}]}`,
	},
	story.PhaseNodes: {
		system: `You are a veteran tabletop-RPG campaign designer laying out a web of playable
scenes. Respond with a single JSON object and nothing else.`,
		user: `Approved campaign material:

{{context}}

{{feedback}}

Create the scene node web: concrete situations the table can visit, each with
a stable id, a playable scene description, leads pointing at other nodes, and
the key information tokens discoverable there.`,
		shape: `{"nodes":[{"id","title","location","scene","leads":[],"key_info":[]}]}`,
	},
	story.PhaseArcs: {
		system: `You are a veteran tabletop-RPG campaign designer shaping escalation arcs across
three acts. Respond with a single JSON object and nothing else.`,
		user: `Approved campaign material:

{{context}}

{{feedback}}

Create escalation arcs. Each arc belongs to one act (1-3) and carries ordered
beats; each beat names the information tokens that must be revealed for it to
complete. Acts must escalate in stakes.`,
		shape: `{"arcs":[{"id","title","act","beats":[{"id","title","objective","required_info":[]}]}]}`,
	},
	story.PhaseResolutions: {
		system: `You are a veteran tabletop-RPG campaign designer writing the ways a campaign can
end. Respond with a single JSON object and nothing else.`,
		user: `Approved campaign material:

{{context}}

{{feedback}}

Create the resolution paths: distinct endings with requirements and epilogue
text, plus an optional twist with its foreshadowing.`,
		shape: `{"resolution_paths":[{"path_id","name","requirements":[],"epilogue"}],"twist":{"reveal","foreshadowing"}}`,
	},
}

const repairBody = `Your previous reply was not valid JSON and could not be parsed.

Previous reply:
{{previous}}

Parse error:
{{parse_error}}

Reply again with ONLY the corrected JSON object. No prose, no code fences.`

const remixBody = `Approved campaign material:

{{context}}

Current version of this section:

{{current}}

Creative brief for the remix:

{{remix_brief}}

{{preserve}}

Rewrite this section wholesale under the brief. Keep the same JSON shape:
{{shape}}

Respond with a single JSON object and nothing else.`

const regenBody = `Approved campaign material:

{{context}}

Current version of this section:

{{current}}

Regenerate ONLY the addressed element: {{target}}.

{{feedback}}

{{preserve}}

Leave every sibling element alone; your reply replaces just the addressed
element. Reply with a single JSON object of shape:
{{shape}}`

// fragmentShapes gives the JSON shape hint for each regen target kind.
var fragmentShapes = map[story.TargetKind]string{
	story.TargetCharacter: `{"name","pronouns","concept","trouble","background","skills":[{"name","rating"}],"stunts":[]}`,
	story.TargetBonds:     `{"bonds":[{"a","b","description"}]}`,
	story.TargetFaction:   `{"id","name","agenda","methods","clocks":[{"name","segments","filled","tick"}]}`,
	story.TargetClock:     `{"name","segments","filled","tick"}`,
	story.TargetRelations: `{"relationships":[{"from","to","stance"}]}`,
	story.TargetNode:      `{"id","title","location","scene","leads":[],"key_info":[]}`,
	story.TargetScene:     `{"scene"}`,
	story.TargetArc:       `{"id","title","act","beats":[{"id","title","objective","required_info":[]}]}`,
	story.TargetBeat:      `{"id","title","objective","required_info":[]}`,
	story.TargetBranch:    `{"path_id","name","requirements":[],"epilogue"}`,
	story.TargetEpilogues: `{"epilogues":{"<path_id>":"<epilogue text>"}}`,
}

// phaseTargetKinds mirrors the addressable sub-elements per phase.
var phaseTargetKinds = map[story.Phase][]story.TargetKind{
	story.PhaseCharacters:  {story.TargetCharacter, story.TargetBonds},
	story.PhaseFactions:    {story.TargetFaction, story.TargetClock, story.TargetRelations},
	story.PhaseNodes:       {story.TargetNode, story.TargetScene},
	story.PhaseArcs:        {story.TargetArc, story.TargetBeat},
	story.PhaseResolutions: {story.TargetBranch, story.TargetEpilogues},
}

// Defaults builds a registry populated with the built-in template set.
func Defaults() *Registry {
	r := NewRegistry()

	for phase, p := range phasePrompts {
		r.Register(PhaseID(phase, "system"), p.system)
		r.Register(PhaseID(phase, "user"), p.user+"\n\nReply with a single JSON object of shape:\n"+p.shape)
		r.Register(PhaseID(phase, "repair"), repairBody)
		r.Register(OpID(phase, story.OpRemix, "full"), replaceShape(remixBody, p.shape))

		for _, kind := range phaseTargetKinds[phase] {
			r.Register(OpID(phase, story.OpRegen, string(kind)), replaceShape(regenBody, fragmentShapes[kind]))
		}
	}

	registerRuntime(r)
	return r
}

func replaceShape(body, shape string) string {
	vars := map[string]string{"shape": shape}
	return varPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// RuntimeRepairID is the shared repair template for runtime calls.
const RuntimeRepairID = "runtime/repair@" + defaultVersion

func registerRuntime(r *Registry) {
	r.Register(RuntimeRepairID, repairBody)

	r.Register(RuntimeID("narration", "system"), `You are the game master narrating a live tabletop-RPG session. You advance the
planned story through the current beat while honoring what players actually do.
Respond with a single JSON object and nothing else.`)

	r.Register(RuntimeID("narration", "user"), `Campaign state:
Act {{act}}, current beat: {{beat}}
Beat objective: {{beat_objective}}
World state: {{world_state}}

Recent events:
{{recent_events}}

Related memories:
{{memories}}

Player action: {{action}}

Narrate the outcome in 2-4 paragraphs, then report every state change. Only
reveal key information tokens from this list when the fiction earns them:
{{available_info}}

Reply with a single JSON object of shape:
{"narration","state_delta":{"world_facts":{},"location_states":{},"npc_states":{},"character_relationships":{},"key_info_revealed":[]},"dice_rolls":[{"expression","skill","result"}],"options":[{"id","text"}]}`)

	r.Register(RuntimeID("intent", "system"), `You screen a proposed player action against the current story beat. Classify it
as on-track, tangent, or divergent. Respond with a single JSON object and
nothing else.`)

	r.Register(RuntimeID("intent", "user"), `Current beat: {{beat}}
Beat objective: {{beat_objective}}

Recent events:
{{recent_events}}

Proposed player action: {{action}}

Classify the action. "on-track" advances the beat, "tangent" is harmless
color, "divergent" ignores or undermines the beat's objective. Reply with a
single JSON object of shape:
{"verdict","is_on_track","confidence","intended_beat","divergence_reason","alternative_action"}`)

	r.Register(RuntimeID("opening", "system"), `You are the game master opening the first session of a new campaign. Respond
with a single JSON object and nothing else.`)

	r.Register(RuntimeID("opening", "user"), `Campaign overview:
{{overview}}

Opening hook:
{{hook}}

Write the opening narration that drops the table into the hook, 2-4
paragraphs, ending on a clear invitation to act. Reply with a single JSON
object of shape:
{"narration","state_delta":{},"options":[{"id","text"}]}`)

	r.Register(RuntimeID("recap", "system"), `You are the game master opening a returning session with a recap of what came
before. Respond with a single JSON object and nothing else.`)

	r.Register(RuntimeID("recap", "user"), `Events from the previous session:
{{events}}

Current act: {{act}}, current beat: {{beat}}

Write a "previously on" recap in 1-2 paragraphs, ending where play resumes.
Reply with a single JSON object of shape:
{"narration","state_delta":{},"options":[{"id","text"}]}`)
}

// ContextLabel names a prior phase's block inside a rendered context section.
func ContextLabel(phase story.Phase) string {
	return fmt.Sprintf("## Phase %d (%s)", int(phase), phase)
}
