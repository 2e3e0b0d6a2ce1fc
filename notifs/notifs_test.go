package notifs

import (
	"context"
	"testing"
	"time"

	"github.com/bluesky-social/mediamod/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testManager(t *testing.T) *NotificationManager {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	nm, err := NewNotificationManager(db)
	if err != nil {
		t.Fatal(err)
	}
	return nm
}

func TestNotifyBlocked(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	nm := testManager(t)

	assert.NoError(nm.NotifyBlocked(ctx, &models.MediaItem{ID: 1, UserID: 5}, "policy violation"))
	assert.NoError(nm.NotifyBlocked(ctx, &models.MediaItem{ID: 2, UserID: 5}, ""))
	assert.NoError(nm.NotifyBlocked(ctx, &models.MediaItem{ID: 3, UserID: 6}, "blocked tag: gore"))

	notifs, err := nm.GetNotifications(ctx, 5, 10)
	assert.NoError(err)
	assert.Equal(2, len(notifs))
	for _, n := range notifs {
		assert.Equal(CategoryMediaBlocked, n.Category)
		if n.MediaID == 1 {
			assert.Contains(n.Message, "(policy violation)")
		}
	}

	c, err := nm.GetCount(ctx, 5)
	assert.NoError(err)
	assert.Equal(int64(2), c)

	assert.NoError(nm.UpdateSeen(ctx, 5, time.Now().Add(time.Minute)))
	assert.NoError(nm.UpdateSeen(ctx, 5, time.Now().Add(time.Hour)))
	c, err = nm.GetCount(ctx, 5)
	assert.NoError(err)
	assert.Equal(int64(0), c)

	c, err = nm.GetCount(ctx, 6)
	assert.NoError(err)
	assert.Equal(int64(1), c)
}
