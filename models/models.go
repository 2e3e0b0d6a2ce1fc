// Database models for media items, the tag dictionary, and moderation configuration.
package models

import (
	"slices"
	"time"

	"github.com/bluesky-social/mediamod/automod/level"
)

type IngestionState string

const (
	StatePending  = IngestionState("pending")
	StateScanned  = IngestionState("scanned")
	StateBlocked  = IngestionState("blocked")
	StateNotFound = IngestionState("notfound")
	StateError    = IngestionState("error")
)

// Whether this state is final for ingestion purposes. Later scan results may still refresh severity and review status of a Scanned item.
func (s IngestionState) Terminal() bool {
	return s == StateScanned || s == StateBlocked
}

type MediaItem struct {
	ID             int64          `gorm:"primaryKey;autoIncrement:false"`
	UserID         int64          `gorm:"index;not null"`
	IngestionState IngestionState `gorm:"index;not null;default:pending"`
	NsfwLevel      int            `gorm:"not null;default:0"`
	// set by moderators; automated passes never change NsfwLevel when locked
	LevelLocked    bool
	ScanCompletion ScanCompletion `gorm:"type:text"`
	NeedsReview    *string
	BlockReason    *string
	// sticky: once set by any pass, never cleared by automation
	PointOfInterest bool
	MinorDepiction  bool
	Prompt          string
	NegativePrompt  string
	GenerationTool  string
	ResourceIDs     Int64List `gorm:"type:text"`
	PerceptualHash  *string
	ScannedAt       *time.Time
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Whether the record carries any evidence of being an AI generation (prompt, linked resources, or generation tool).
func (m *MediaItem) HasGenerationMeta() bool {
	return m.Prompt != "" || len(m.ResourceIDs) > 0 || m.GenerationTool != ""
}

// Whether every source in required has reported.
func (m *MediaItem) ScansComplete(required []string) bool {
	for _, src := range required {
		if _, ok := m.ScanCompletion[src]; !ok {
			return false
		}
	}
	return true
}

// Tag dictionary entry.
type Tag struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	NsfwLevel int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Tag) IsBlocked() bool {
	return t.NsfwLevel == level.Blocked
}

// Association of a tag to a media item, as reported by one source.
type TagOnMedia struct {
	MediaID    int64  `gorm:"primaryKey;autoIncrement:false"`
	TagID      uint   `gorm:"primaryKey;autoIncrement:false;index"`
	Source     string `gorm:"primaryKey"`
	Confidence int
	Automated  bool
	// ignored for this source; retained for audit but excluded from decisions
	Disabled  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Association joined with its dictionary entry, as returned by media tag listings.
type TagOnMediaView struct {
	TagOnMedia
	Name      string
	NsfwLevel int
}

func (TagOnMedia) TableName() string {
	return "tag_on_media"
}

type RuleAction string

const (
	RuleActionApprove = RuleAction("approve")
	RuleActionHold    = RuleAction("hold")
	RuleActionBlock   = RuleAction("block")
)

func (a RuleAction) Valid() bool {
	return slices.Contains([]RuleAction{RuleActionApprove, RuleActionHold, RuleActionBlock}, a)
}

// Admin-authored moderation rule. Definition is a JSON-encoded predicate tree.
type ModerationRule struct {
	ID         uint `gorm:"primaryKey"`
	Order      int  `gorm:"column:rule_order;index;not null"`
	Enabled    bool
	Action     RuleAction `gorm:"not null"`
	Reason     string
	Definition string `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type TagRuleType string

const (
	TagRuleReplace = TagRuleType("replace")
	TagRuleAppend  = TagRuleType("append")
)

// Tag substitution rule, applied in Order during reconciliation.
type TagRule struct {
	ID        uint        `gorm:"primaryKey"`
	Order     int         `gorm:"column:rule_order;index;not null"`
	Type      TagRuleType `gorm:"not null"`
	FromTag   string      `gorm:"not null"`
	ToTag     string      `gorm:"not null"`
	CreatedAt time.Time
}

type Account struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// Minimal resource record, for flagging models or add-ons which are known to depict minors.
type Resource struct {
	ID           int64 `gorm:"primaryKey;autoIncrement:false"`
	Name         string
	DepictsMinor bool
}

// All tables managed by this package, for AutoMigrate.
func All() []any {
	return []any{
		&MediaItem{},
		&Tag{},
		&TagOnMedia{},
		&ModerationRule{},
		&TagRule{},
		&Account{},
		&Resource{},
	}
}
