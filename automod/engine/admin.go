package engine

import (
	"context"
	"fmt"

	"github.com/bluesky-social/mediamod/automod/flagstore"
	"github.com/bluesky-social/mediamod/automod/normalize"
	"github.com/bluesky-social/mediamod/automod/scan"
	"github.com/bluesky-social/mediamod/models"
)

type TagLevelSetter interface {
	SetTagLevel(ctx context.Context, name string, lvl int) (*models.Tag, error)
}

// Changes a dictionary tag's severity level and purges cached resolutions of it.
func (eng *Engine) SetTagLevel(ctx context.Context, store TagLevelSetter, name string, lvl int) (*models.Tag, error) {
	name = normalize.CanonicalName(name)
	if name == "" {
		return nil, &scan.ValidationError{Message: "empty tag name"}
	}
	tag, err := store.SetTagLevel(ctx, name, lvl)
	if err != nil {
		return nil, scan.Transient("setting tag level", err)
	}
	if err := eng.Reconciler.InvalidateTag(ctx, tag.Name); err != nil {
		eng.Logger.Warn("failed to purge tag cache", "tag", tag.Name, "err", err)
	}
	eng.Logger.Info("tag level updated", "tag", tag.Name, "level", lvl)
	return tag, nil
}

// Adds or removes a tag from a source's ignore list, and purges cached resolutions of it.
func (eng *Engine) SetTagIgnored(ctx context.Context, source scan.Source, name string, ignored bool) error {
	name = normalize.CanonicalName(name)
	if name == "" {
		return &scan.ValidationError{Message: "empty tag name"}
	}
	key := flagstore.IgnoreKey(source.String())
	var err error
	if ignored {
		err = eng.Reconciler.Flags.Add(ctx, key, []string{name})
	} else {
		err = eng.Reconciler.Flags.Remove(ctx, key, []string{name})
	}
	if err != nil {
		return scan.Transient(fmt.Sprintf("updating ignore list for %s", source), err)
	}
	if err := eng.Reconciler.InvalidateTag(ctx, name); err != nil {
		eng.Logger.Warn("failed to purge tag cache", "tag", name, "err", err)
	}
	eng.Logger.Info("tag ignore status updated", "tag", name, "source", source, "ignored", ignored)
	return nil
}
