package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/mscottkey/fable-engine/internal/config"
)

const scoreThreshold = 0.7

// Memory is one stored narrative fragment.
type Memory struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	SessionID  string `json:"session_id"`
	Kind       string `json:"kind"` // player_action | narration
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// MemoryStore keeps narrative events in a vector collection so narration
// prompts can recall what happened sessions ago, beyond the recent-event
// window.
type MemoryStore struct {
	client     *qdrant.Client
	embedding  *EmbeddingService
	collection string
	logger     *zap.Logger
}

func NewMemoryStore(client *qdrant.Client, embedding *EmbeddingService, cfg config.QdrantConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		client:     client,
		embedding:  embedding,
		collection: cfg.Collection,
		logger:     logger,
	}
}

// EnsureCollection creates the memory collection if it does not exist yet.
func (s *MemoryStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", s.collection, err)
	}
	return nil
}

// Remember embeds and stores one narrative fragment.
func (s *MemoryStore) Remember(ctx context.Context, campaignID, sessionID, kind, text string) error {
	if text == "" {
		return nil
	}

	vector, err := s.embedding.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}

	mem := Memory{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		SessionID:  sessionID,
		Kind:       kind,
		Content:    text,
		Timestamp:  time.Now().Unix(),
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(mem.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"campaign_id": mem.CampaignID,
				"session_id":  mem.SessionID,
				"kind":        mem.Kind,
				"content":     mem.Content,
				"timestamp":   mem.Timestamp,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// Related recalls the memories most similar to a query, scoped to one
// campaign. Only results above the similarity threshold come back.
func (s *MemoryStore) Related(ctx context.Context, campaignID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	vector, err := s.embedding.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(scoreThreshold)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("campaign_id", campaignID),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	texts := make([]string, 0, len(points))
	for _, p := range points {
		content := p.Payload["content"].GetStringValue()
		if content == "" {
			continue
		}
		texts = append(texts, content)
	}

	s.logger.Debug("memory recall",
		zap.String("campaign_id", campaignID),
		zap.Int("hits", len(texts)),
	)
	return texts, nil
}
