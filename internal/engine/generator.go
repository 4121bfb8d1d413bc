package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mscottkey/fable-engine/internal/llm"
	"github.com/mscottkey/fable-engine/internal/prompts"
	"github.com/mscottkey/fable-engine/internal/story"
)

// Generator is the structured generation engine: it renders prompts, calls
// the completion service, parses the JSON reply with at most one repair
// round-trip, validates the result, and returns a typed outcome. All six
// phases and every runtime call run through the same executor.
type Generator struct {
	client    llm.CompletionClient
	registry  *prompts.Registry
	validator *story.Validator
	logger    *zap.Logger
}

func NewGenerator(client llm.CompletionClient, registry *prompts.Registry, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:    client,
		registry:  registry,
		validator: story.NewValidator(),
		logger:    logger,
	}
}

// call is one fully-resolved structured generation: prompt IDs, variables,
// tuning, and the decoder for the expected shape.
type call struct {
	label       string
	systemID    string
	userID      string
	repairID    string
	vars        map[string]string
	temperature float32
	maxTokens   int
	decode      func(raw []byte) (any, error)
	warnings    func(data any) []string
}

// Generate runs one phase generation request.
func (g *Generator) Generate(ctx context.Context, req *GenerationRequest) (*Result, error) {
	if !req.Phase.Valid() {
		return nil, fmt.Errorf("unknown phase %d", int(req.Phase))
	}
	desc, ok := phaseDescriptors[req.Phase]
	if !ok {
		return nil, fmt.Errorf("no descriptor for phase %s", req.Phase)
	}

	userID := prompts.PhaseID(req.Phase, "user")
	switch req.Operation {
	case story.OpRegen:
		if req.Target == nil {
			return nil, &Failure{
				Kind: ErrInvalidTarget, Phase: req.Phase, Operation: req.Operation,
				Message: "regen requires a target",
			}
		}
		userID = prompts.OpID(req.Phase, story.OpRegen, req.Target.TemplateName())
	case story.OpRemix:
		userID = prompts.OpID(req.Phase, story.OpRemix, "full")
	}

	c := call{
		label:       fmt.Sprintf("phase%d/%s", int(req.Phase), req.Operation),
		systemID:    prompts.PhaseID(req.Phase, "system"),
		userID:      userID,
		repairID:    prompts.PhaseID(req.Phase, "repair"),
		vars:        g.phaseVars(req),
		temperature: desc.temperature,
		maxTokens:   desc.maxTokens(req.Operation),
	}

	if req.Operation == story.OpRegen {
		target := *req.Target
		c.decode = func(raw []byte) (any, error) {
			return g.validator.DecodeFragment(target, raw)
		}
	} else {
		phase := req.Phase
		c.decode = func(raw []byte) (any, error) {
			return g.validator.DecodePhaseOutput(phase, raw)
		}
	}
	c.warnings = phaseWarnings

	result, err := g.run(ctx, c)
	if err != nil {
		g.annotate(err, req)
		return nil, err
	}
	return result, nil
}

// NarrativeTurn generates one runtime narration from a player action.
func (g *Generator) NarrativeTurn(ctx context.Context, vars map[string]string) (*Result, error) {
	return g.runtimeCall(ctx, "narration", vars, narrationTemperature, narrationMaxTokens, func(raw []byte) (any, error) {
		return g.validator.DecodeRuntime(raw, &story.NarrativeTurn{})
	})
}

// Opening generates the synthetic first-session opening narration.
func (g *Generator) Opening(ctx context.Context, vars map[string]string) (*Result, error) {
	return g.runtimeCall(ctx, "opening", vars, narrationTemperature, narrationMaxTokens, func(raw []byte) (any, error) {
		return g.validator.DecodeRuntime(raw, &story.NarrativeTurn{})
	})
}

// Recap generates a returning-session recap from the previous event log.
func (g *Generator) Recap(ctx context.Context, vars map[string]string) (*Result, error) {
	return g.runtimeCall(ctx, "recap", vars, recapTemperature, recapMaxTokens, func(raw []byte) (any, error) {
		return g.validator.DecodeRuntime(raw, &story.NarrativeTurn{})
	})
}

// ClassifyIntent runs the three-way action classification. Failures are
// returned as-is; the classifier component applies its fail-open policy.
func (g *Generator) ClassifyIntent(ctx context.Context, vars map[string]string) (*Result, error) {
	return g.runtimeCall(ctx, "intent", vars, intentTemperature, intentMaxTokens, func(raw []byte) (any, error) {
		return g.validator.DecodeRuntime(raw, &story.IntentClassification{})
	})
}

func (g *Generator) runtimeCall(ctx context.Context, name string, vars map[string]string, temperature float32, maxTokens int, decode func([]byte) (any, error)) (*Result, error) {
	return g.run(ctx, call{
		label:       "runtime/" + name,
		systemID:    prompts.RuntimeID(name, "system"),
		userID:      prompts.RuntimeID(name, "user"),
		repairID:    prompts.RuntimeRepairID,
		vars:        vars,
		temperature: temperature,
		maxTokens:   maxTokens,
		decode:      decode,
	})
}

// run executes the generate → parse → repair-once → validate sequence.
func (g *Generator) run(ctx context.Context, c call) (*Result, error) {
	system, err := g.registry.Render(c.systemID, c.vars)
	if err != nil {
		return nil, err
	}
	user, err := g.registry.Render(c.userID, c.vars)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	resp, err := g.complete(ctx, c, messages, 1)
	if err != nil {
		return nil, &Failure{Kind: ErrUpstreamUnavailable, Message: "completion call failed", Err: err}
	}
	usage := resp.Usage

	repaired := false
	raw, parseErr := extractJSON(resp.Content)
	if parseErr != nil {
		// Exactly one repair round-trip: append the failed exchange plus the
		// repair instruction. A second parse failure is final.
		repairPrompt, rerr := g.registry.Render(c.repairID, map[string]string{
			"previous":    resp.Content,
			"parse_error": parseErr.Error(),
		})
		if rerr != nil {
			return nil, rerr
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: repairPrompt},
		)
		resp, err = g.complete(ctx, c, messages, 2)
		if err != nil {
			return nil, &Failure{Kind: ErrUpstreamUnavailable, Message: "repair call failed", Err: err}
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		repaired = true

		raw, parseErr = extractJSON(resp.Content)
		if parseErr != nil {
			return nil, &Failure{Kind: ErrParseFailed, Message: "output was not valid JSON after repair", Err: parseErr}
		}
	}

	data, err := c.decode(raw)
	if err != nil {
		return nil, &Failure{Kind: ErrSchemaInvalid, Message: "output did not match expected schema", Err: err}
	}

	result := &Result{
		Data:      data,
		Raw:       raw,
		Usage:     usage,
		LatencyMs: time.Since(start).Milliseconds(),
		Repaired:  repaired,
	}
	if c.warnings != nil {
		result.Warnings = c.warnings(data)
	}
	return result, nil
}

func (g *Generator) complete(ctx context.Context, c call, messages []llm.Message, attempt int) (*llm.Response, error) {
	start := time.Now()
	resp, err := g.client.Complete(ctx, &llm.Request{
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		JSONMode:    true,
	})
	g.audit(c.label, attempt, resp, time.Since(start), err)
	return resp, err
}

// audit emits one usage record per completion attempt. It must never panic
// or fail the generation path.
func (g *Generator) audit(label string, attempt int, resp *llm.Response, elapsed time.Duration, err error) {
	defer func() {
		_ = recover()
	}()

	fields := []zap.Field{
		zap.String("call", label),
		zap.Int("attempt", attempt),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
	}
	if resp != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		g.logger.Warn("generation attempt failed", fields...)
		return
	}
	g.logger.Info("generation attempt", fields...)
}

// annotate stamps request coordinates onto a Failure for idempotent retry.
func (g *Generator) annotate(err error, req *GenerationRequest) {
	if f, ok := err.(*Failure); ok {
		f.Phase = req.Phase
		f.Operation = req.Operation
		f.Target = req.Target
	}
}

// phaseVars builds the template variable bindings for a phase request.
func (g *Generator) phaseVars(req *GenerationRequest) map[string]string {
	vars := map[string]string{
		"premise":     req.Premise,
		"context":     renderContext(req.ContextInputs),
		"current":     string(req.CurrentData),
		"remix_brief": req.RemixBrief,
	}
	if req.Feedback != "" {
		vars["feedback"] = "Feedback to address:\n" + req.Feedback
	}
	if req.Target != nil {
		vars["target"] = req.Target.String()
	}
	if req.PreserveProperNouns {
		vars["preserve"] = "Preserve every existing proper noun (people, places, factions) exactly as written."
	}
	return vars
}

// renderContext lays out the approved prior-phase outputs in phase order.
func renderContext(inputs map[story.Phase]json.RawMessage) string {
	if len(inputs) == 0 {
		return ""
	}
	order := make([]story.Phase, 0, len(inputs))
	for phase := range inputs {
		order = append(order, phase)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var b strings.Builder
	for _, phase := range order {
		b.WriteString(prompts.ContextLabel(phase))
		b.WriteString("\n")
		b.Write(inputs[phase])
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// phaseWarnings reports advisory invariant violations on phase data.
func phaseWarnings(data any) []string {
	switch v := data.(type) {
	case *story.CharacterLineup:
		return story.CheckLineupPyramids(v)
	case *story.Character:
		report := story.CheckPyramid(v.Skills)
		return report.Errors
	}
	return nil
}

// extractJSON locates the JSON object in a model reply, tolerating markdown
// code fences and surrounding prose.
func extractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if !json.Valid([]byte(trimmed)) {
		// Fall back to the outermost brace span.
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object found in output")
		}
		trimmed = trimmed[start : end+1]
		if !json.Valid([]byte(trimmed)) {
			return nil, fmt.Errorf("output is not valid JSON")
		}
	}

	return json.RawMessage(trimmed), nil
}
