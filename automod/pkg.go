package automod

import (
	"github.com/bluesky-social/mediamod/automod/countstore"
	"github.com/bluesky-social/mediamod/automod/engine"
	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/scan"
)

type Engine = engine.Engine
type Outcome = engine.Outcome
type DecisionStage = engine.DecisionStage
type Facts = engine.Facts
type Verdict = engine.Verdict

type Notifier = engine.Notifier
type Alerter = engine.Alerter
type SearchIndexer = engine.SearchIndexer
type SlackNotifier = engine.SlackNotifier

type Submission = scan.Submission
type RawTag = scan.RawTag
type Source = scan.Source
type Status = scan.Status

type ValidationError = scan.ValidationError
type TransientError = scan.TransientError

type Reviewer = escalation.Reviewer

var (
	ErrMediaNotFound = scan.ErrMediaNotFound

	LevelNone    = level.None
	LevelPG      = level.PG
	LevelPG13    = level.PG13
	LevelR       = level.R
	LevelX       = level.X
	LevelXXX     = level.XXX
	LevelBlocked = level.Blocked

	PeriodTotal = countstore.PeriodTotal
	PeriodDay   = countstore.PeriodDay
	PeriodHour  = countstore.PeriodHour
)
