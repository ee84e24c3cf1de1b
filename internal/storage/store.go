// Package storage persists the client-side stream session so it survives a
// restart. A single fixed-key row plays the role a browser's localStorage
// entry would.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

// sessionKey is the fixed storage key for the single persisted session.
const sessionKey = "media_analyzer_session"

// SessionRecord is the stored row: one JSON-serialized StreamSession under a
// fixed key.
type SessionRecord struct {
	Key       string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

// SessionStore is a durable single-slot store for the active stream session.
type SessionStore struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the SQLite-backed session store.
func Open(cfg config.DBConfig) (*SessionStore, error) {
	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Opening session store: %s", cfg.File)
	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store '%s': %w", cfg.File, err)
	}

	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("session store migration failed: %w", err)
	}

	return &SessionStore{db: db}, nil
}

// Save persists session, replacing any previously stored one.
func (s *SessionStore) Save(session models.StreamSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	record := SessionRecord{Key: sessionKey, Payload: payload, UpdatedAt: time.Now()}
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	log.Debugf("Persisted session %s", session.ID)
	return nil
}

// Load returns the stored session, if any.
func (s *SessionStore) Load() (*models.StreamSession, bool, error) {
	var record SessionRecord
	result := s.db.First(&record, "key = ?", sessionKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load session: %w", result.Error)
	}

	var session models.StreamSession
	if err := json.Unmarshal(record.Payload, &session); err != nil {
		// A corrupt record is treated as absent; the slot gets overwritten
		// on the next save.
		log.Warnf("Discarding unreadable persisted session: %v", err)
		return nil, false, nil
	}

	return &session, true, nil
}

// Clear removes the stored session. Clearing an empty store is a no-op.
func (s *SessionStore) Clear() error {
	if err := s.db.Delete(&SessionRecord{}, "key = ?", sessionKey).Error; err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
