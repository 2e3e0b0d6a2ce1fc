package notifs

import (
	"context"
	"log/slog"

	"github.com/bluesky-social/mediamod/models"
)

// Drops notifications, logging them instead. Used when no database is configured for notifications.
type NullNotifs struct {
}

func (nn *NullNotifs) NotifyBlocked(ctx context.Context, m *models.MediaItem, reason string) error {
	slog.Debug("dropping block notification", "media", m.ID, "user", m.UserID, "reason", reason)
	return nil
}
