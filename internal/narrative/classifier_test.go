package narrative

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/llm"
	"github.com/mscottkey/fable-engine/internal/prompts"
)

type scriptedClient struct {
	reply string
	err   error
	calls int
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.reply}, nil
}

func newTestClassifier(client llm.CompletionClient) *Classifier {
	return NewClassifier(engine.NewGenerator(client, prompts.Defaults(), nil), nil)
}

func TestClassifyFailsOpen(t *testing.T) {
	beat := beatFixture()

	t.Run("upstream failure", func(t *testing.T) {
		c := newTestClassifier(&scriptedClient{err: errors.New("connection refused")})
		got := c.Classify(context.Background(), "burn the warehouse", beat, nil)

		assert.True(t, got.IsOnTrack)
		assert.Equal(t, "on-track", got.Verdict)
		assert.Equal(t, 50, got.Confidence)
		assert.Equal(t, beat.ID, got.IntendedBeat)
	})

	t.Run("unparseable output", func(t *testing.T) {
		c := newTestClassifier(&scriptedClient{reply: "i refuse to answer in json"})
		got := c.Classify(context.Background(), "burn the warehouse", beat, nil)

		assert.True(t, got.IsOnTrack)
		assert.Equal(t, 50, got.Confidence)
	})

	t.Run("schema-invalid output", func(t *testing.T) {
		c := newTestClassifier(&scriptedClient{reply: `{"verdict":"sideways","confidence":999}`})
		got := c.Classify(context.Background(), "burn the warehouse", beat, nil)

		assert.True(t, got.IsOnTrack)
		assert.Equal(t, 50, got.Confidence)
	})
}

func TestClassifySuccess(t *testing.T) {
	beat := beatFixture()

	c := newTestClassifier(&scriptedClient{
		reply: `{"verdict":"divergent","is_on_track":true,"confidence":88,"divergence_reason":"abandons the heist"}`,
	})
	got := c.Classify(context.Background(), "sail away forever", beat, []string{"[narration] the vault is open"})

	assert.Equal(t, "divergent", got.Verdict)
	// The boolean is forced consistent with the verdict even when the model
	// contradicts itself.
	assert.False(t, got.IsOnTrack)
	assert.Equal(t, 88, got.Confidence)
	assert.Equal(t, beat.ID, got.IntendedBeat)
}

func TestClassifyTrimsRecentEvents(t *testing.T) {
	client := &scriptedClient{reply: `{"verdict":"on-track","is_on_track":true,"confidence":70}`}
	c := newTestClassifier(client)

	events := []string{"e1", "e2", "e3", "e4", "e5"}
	got := c.Classify(context.Background(), "open the vault", beatFixture(), events)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "on-track", got.Verdict)
	// The caller's slice is not mutated.
	assert.Len(t, events, 5)
}
