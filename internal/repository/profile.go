package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blockedby/prospect-os/internal/models"
)

// ProfileRepository stores the sender profile and settings through GORM.
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get returns the profile of actorID or ErrNotFound.
func (r *ProfileRepository) Get(ctx context.Context, actorID string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.WithContext(ctx).First(&p, "actor_id = ?", actorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// Save creates or replaces the profile.
func (r *ProfileRepository) Save(ctx context.Context, p *models.Profile) error {
	if p.ActorID == "" {
		return errors.New("profile actor id is required")
	}
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Setting returns the value for key, or def when unset.
func (r *ProfileRepository) Setting(ctx context.Context, key, def string) (string, error) {
	var s models.Setting
	err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return def, nil
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return s.Value, nil
}

// SetSetting upserts a key/value pair.
func (r *ProfileRepository) SetSetting(ctx context.Context, key, value string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
