// Persistence for media items, the tag dictionary, and moderation configuration.
//
// GormStore is the production implementation (postgres or sqlite). MemStore holds everything in process memory, for tests and local development.
package mediastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(models.All()...)
}

func (s *GormStore) CreateMedia(ctx context.Context, m *models.MediaItem) error {
	if m.IngestionState == "" {
		m.IngestionState = models.StatePending
	}
	if m.ScanCompletion == nil {
		m.ScanCompletion = models.ScanCompletion{}
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) GetMedia(ctx context.Context, id int64) (*models.MediaItem, error) {
	var m models.MediaItem
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scan.ErrMediaNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Runs fn against a freshly read row, and saves the result, all inside one transaction. On postgres the row is locked for the duration; sqlite serializes writers already.
//
// If fn returns an error, nothing is written and the error is returned as-is.
func (s *GormStore) UpdateMedia(ctx context.Context, id int64, fn func(m *models.MediaItem) error) (*models.MediaItem, error) {
	var out models.MediaItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.db.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&out, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return scan.ErrMediaNotFound
			}
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) RecordScanCompletion(ctx context.Context, mediaID int64, source string, required []string) (bool, error) {
	m, err := s.UpdateMedia(ctx, mediaID, func(m *models.MediaItem) error {
		m.ScanCompletion = m.ScanCompletion.With(source, time.Now().UTC())
		return nil
	})
	if err != nil {
		return false, err
	}
	return m.ScansComplete(required), nil
}

func (s *GormStore) ListMediaTags(ctx context.Context, mediaID int64) ([]models.TagOnMediaView, error) {
	var out []models.TagOnMediaView
	err := s.db.WithContext(ctx).
		Table("tag_on_media").
		Select("tag_on_media.*, tags.name AS name, tags.nsfw_level AS nsfw_level").
		Joins("JOIN tags ON tags.id = tag_on_media.tag_id").
		Where("tag_on_media.media_id = ?", mediaID).
		Order("tag_on_media.tag_id, tag_on_media.source").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) LookupTags(ctx context.Context, names []string) (map[string]models.Tag, error) {
	out := make(map[string]models.Tag, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var tags []models.Tag
	if err := s.db.WithContext(ctx).Where("name IN ?", names).Find(&tags).Error; err != nil {
		return nil, err
	}
	for _, t := range tags {
		out[t.Name] = t
	}
	return out, nil
}

func (s *GormStore) CreateTags(ctx context.Context, tags []models.Tag) (map[string]models.Tag, error) {
	if len(tags) == 0 {
		return map[string]models.Tag{}, nil
	}
	// another worker may have created some of these concurrently; the re-read picks up their rows
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&tags).Error; err != nil {
		return nil, fmt.Errorf("creating tags: %w", err)
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return s.LookupTags(ctx, names)
}

func (s *GormStore) UpsertTagsOnMedia(ctx context.Context, assocs []models.TagOnMedia) error {
	if len(assocs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_id"}, {Name: "tag_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"confidence", "automated", "disabled", "updated_at"}),
	}).Create(&assocs).Error
}

// Sets the severity level of a tag, creating it if needed.
func (s *GormStore) SetTagLevel(ctx context.Context, name string, lvl int) (*models.Tag, error) {
	t := models.Tag{Name: name, NsfwLevel: lvl}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"nsfw_level", "updated_at"}),
	}).Create(&t).Error
	if err != nil {
		return nil, err
	}
	found, err := s.LookupTags(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	out := found[name]
	return &out, nil
}

// Enabled moderation rules, in evaluation order.
func (s *GormStore) ModerationRules(ctx context.Context) ([]models.ModerationRule, error) {
	var out []models.ModerationRule
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("rule_order, id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) SaveModerationRule(ctx context.Context, r *models.ModerationRule) error {
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *GormStore) TagRules(ctx context.Context) ([]models.TagRule, error) {
	var out []models.TagRule
	if err := s.db.WithContext(ctx).Order("rule_order, id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) SaveTagRule(ctx context.Context, r *models.TagRule) error {
	return s.db.WithContext(ctx).Save(r).Error
}

// Returns nil (not an error) for unknown accounts.
func (s *GormStore) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	var a models.Account
	if err := s.db.WithContext(ctx).First(&a, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (s *GormStore) SaveAccount(ctx context.Context, a *models.Account) error {
	return s.db.WithContext(ctx).Save(a).Error
}

func (s *GormStore) ResourcesDepictMinor(ctx context.Context, ids []int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Resource{}).Where("id IN ? AND depicts_minor = ?", ids, true).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) SaveResource(ctx context.Context, r *models.Resource) error {
	return s.db.WithContext(ctx).Save(r).Error
}
