// User-facing notifications, stored in the database and read by the upload UI.
package notifs

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/mediamod/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	CategoryMediaBlocked = "media-blocked"
)

type Notification struct {
	gorm.Model
	UserID   int64  `gorm:"index;not null"`
	Category string `gorm:"not null"`
	Message  string `gorm:"not null"`
	MediaID  int64
}

type NotifSeen struct {
	ID       uint  `gorm:"primarykey"`
	Usr      int64 `gorm:"uniqueIndex"`
	LastSeen time.Time
}

type NotificationManager struct {
	db *gorm.DB
}

func NewNotificationManager(db *gorm.DB) (*NotificationManager, error) {
	if err := db.AutoMigrate(&Notification{}, &NotifSeen{}); err != nil {
		return nil, fmt.Errorf("migrating notification tables: %w", err)
	}
	return &NotificationManager{
		db: db,
	}, nil
}

func blockedMessage(reason string) string {
	if reason == "" {
		return "Your upload was blocked because it violates our content policy."
	}
	return fmt.Sprintf("Your upload was blocked because it violates our content policy (%s).", reason)
}

func (nm *NotificationManager) NotifyBlocked(ctx context.Context, m *models.MediaItem, reason string) error {
	n := Notification{
		UserID:   m.UserID,
		Category: CategoryMediaBlocked,
		Message:  blockedMessage(reason),
		MediaID:  m.ID,
	}
	return nm.db.WithContext(ctx).Create(&n).Error
}

// Most recent notifications first.
func (nm *NotificationManager) GetNotifications(ctx context.Context, user int64, limit int) ([]Notification, error) {
	var notifs []Notification
	if err := nm.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&notifs, "user_id = ?", user).Error; err != nil {
		return nil, err
	}
	return notifs, nil
}

func (nm *NotificationManager) lastSeen(ctx context.Context, user int64) (time.Time, error) {
	var seen NotifSeen
	err := nm.db.WithContext(ctx).Where("usr = ?", user).Limit(1).Find(&seen).Error
	return seen.LastSeen, err
}

// Number of notifications since the user last marked them seen.
func (nm *NotificationManager) GetCount(ctx context.Context, user int64) (int64, error) {
	lastSeen, err := nm.lastSeen(ctx, user)
	if err != nil {
		return 0, err
	}
	var c int64
	if err := nm.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ? AND created_at > ?", user, lastSeen).Count(&c).Error; err != nil {
		return 0, err
	}
	return c, nil
}

func (nm *NotificationManager) UpdateSeen(ctx context.Context, usr int64, seen time.Time) error {
	return nm.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "usr"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
	}).Create(&NotifSeen{
		Usr:      usr,
		LastSeen: seen,
	}).Error
}
