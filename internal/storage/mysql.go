package storage

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mscottkey/fable-engine/internal/config"
	"github.com/mscottkey/fable-engine/internal/models"
)

// MySQLStore is the relational store behind campaigns, phase records,
// sessions, narrative state, and the event log.
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Campaign{},
		&models.PhaseRecord{},
		&models.GameSession{},
		&models.SessionState{},
		&models.NarrativeEvent{},
	); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction helper
func (s *MySQLStore) WithTx(fn func(*gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// --- campaigns and phase records ---

func (s *MySQLStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *MySQLStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (s *MySQLStore) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&campaigns).Error
	return campaigns, err
}

// SavePhaseRecord upserts the approved record of one phase; each campaign
// keeps at most one record per phase number.
func (s *MySQLStore) SavePhaseRecord(ctx context.Context, rec *models.PhaseRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "phase_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"prev_record_id", "status", "output", "warnings", "updated_at"}),
	}).Create(rec).Error
}

func (s *MySQLStore) ListPhaseRecords(ctx context.Context, campaignID string) ([]models.PhaseRecord, error) {
	var records []models.PhaseRecord
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("phase_number ASC").
		Find(&records).Error
	return records, err
}

// --- sessions ---

func (s *MySQLStore) CreateSession(ctx context.Context, session *models.GameSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

func (s *MySQLStore) GetSession(ctx context.Context, id string) (*models.GameSession, error) {
	var session models.GameSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *MySQLStore) ListSessions(ctx context.Context, campaignID string) ([]models.GameSession, error) {
	var sessions []models.GameSession
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("session_number ASC").
		Find(&sessions).Error
	return sessions, err
}

func (s *MySQLStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// --- narrative state ---

func (s *MySQLStore) GetSessionState(ctx context.Context, campaignID string) (*models.SessionState, error) {
	var state models.SessionState
	if err := s.db.WithContext(ctx).First(&state, "campaign_id = ?", campaignID).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MySQLStore) SaveSessionState(ctx context.Context, state *models.SessionState) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}},
		UpdateAll: true,
	}).Create(state).Error
}

// --- event log ---

func (s *MySQLStore) AppendEvent(ctx context.Context, e *models.NarrativeEvent) error {
	return s.db.WithContext(ctx).Create(e).Error
}

// ListEvents returns the last `limit` events of a session in sequence
// order. A non-positive limit returns the whole log.
func (s *MySQLStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.NarrativeEvent, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("event_number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var events []models.NarrativeEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}

	// Reverse into ascending sequence order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *MySQLStore) LatestEventNumber(ctx context.Context, sessionID string) (int64, error) {
	var latest int64
	err := s.db.WithContext(ctx).
		Model(&models.NarrativeEvent{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(event_number), 0)").
		Scan(&latest).Error
	return latest, err
}
