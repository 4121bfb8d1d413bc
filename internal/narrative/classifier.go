package narrative

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/story"
)

const failOpenConfidence = 50

// Classifier screens a proposed player action against the current beat. Its
// output is advisory: the session runtime decides whether to surface a
// warning, and the action may proceed regardless of the verdict.
type Classifier struct {
	generator *engine.Generator
	logger    *zap.Logger
}

func NewClassifier(generator *engine.Generator, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{generator: generator, logger: logger}
}

// Classify runs the three-way on-track/tangent/divergent classification.
//
// Fail-open: any failure in the underlying generation call (network, parse,
// schema) yields a permissive default instead of an error, so a broken
// classifier never blocks play. Availability over precision, deliberately.
func (c *Classifier) Classify(ctx context.Context, action string, currentBeat story.Beat, recentEvents []string) story.IntentClassification {
	if len(recentEvents) > 3 {
		recentEvents = recentEvents[len(recentEvents)-3:]
	}

	vars := map[string]string{
		"action":         action,
		"beat":           currentBeat.ID + ": " + currentBeat.Title,
		"beat_objective": currentBeat.Objective,
		"recent_events":  strings.Join(recentEvents, "\n"),
	}

	result, err := c.generator.ClassifyIntent(ctx, vars)
	if err != nil {
		c.logger.Warn("intent classification failed, defaulting to on-track",
			zap.String("beat_id", currentBeat.ID),
			zap.Error(err),
		)
		return failOpen(currentBeat.ID)
	}

	classification, ok := result.Data.(*story.IntentClassification)
	if !ok {
		return failOpen(currentBeat.ID)
	}

	// The verdict is authoritative; keep the boolean consistent with it.
	classification.IsOnTrack = classification.Verdict == story.VerdictOnTrack
	if classification.IntendedBeat == "" {
		classification.IntendedBeat = currentBeat.ID
	}
	return *classification
}

func failOpen(beatID string) story.IntentClassification {
	return story.IntentClassification{
		Verdict:      story.VerdictOnTrack,
		IsOnTrack:    true,
		Confidence:   failOpenConfidence,
		IntendedBeat: beatID,
	}
}
