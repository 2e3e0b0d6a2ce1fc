package mediastore

import (
	"context"

	"github.com/bluesky-social/mediamod/models"
)

// Everything the engine and daemon need from persistence.
type Store interface {
	CreateMedia(ctx context.Context, m *models.MediaItem) error
	GetMedia(ctx context.Context, id int64) (*models.MediaItem, error)
	// fn must not call back in to the store
	UpdateMedia(ctx context.Context, id int64, fn func(m *models.MediaItem) error) (*models.MediaItem, error)
	RecordScanCompletion(ctx context.Context, mediaID int64, source string, required []string) (bool, error)
	ListMediaTags(ctx context.Context, mediaID int64) ([]models.TagOnMediaView, error)

	LookupTags(ctx context.Context, names []string) (map[string]models.Tag, error)
	CreateTags(ctx context.Context, tags []models.Tag) (map[string]models.Tag, error)
	UpsertTagsOnMedia(ctx context.Context, assocs []models.TagOnMedia) error
	SetTagLevel(ctx context.Context, name string, lvl int) (*models.Tag, error)

	ModerationRules(ctx context.Context) ([]models.ModerationRule, error)
	SaveModerationRule(ctx context.Context, r *models.ModerationRule) error
	TagRules(ctx context.Context) ([]models.TagRule, error)
	SaveTagRule(ctx context.Context, r *models.TagRule) error

	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	ResourcesDepictMinor(ctx context.Context, ids []int64) (bool, error)
	SaveResource(ctx context.Context, r *models.Resource) error
}

var _ Store = (*GormStore)(nil)
var _ Store = (*MemStore)(nil)
