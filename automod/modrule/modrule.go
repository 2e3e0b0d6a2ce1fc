// Evaluates admin-authored moderation rules against a media item's tags and metadata.
//
// Rules are evaluated in order and the first match wins. A rule whose definition can't be decoded or evaluated is logged and skipped; it never blocks evaluation of later rules.
package modrule

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bluesky-social/mediamod/models"

	lru "github.com/hashicorp/golang-lru/v2"
)

type RuleEvaluationError struct {
	RuleID uint
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("moderation rule %d: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

type Match struct {
	Rule   models.ModerationRule
	Action models.RuleAction
	// rule reason, or a default for the action
	Reason string
}

// Default needsReview reason for hold rules without one.
const DefaultHoldReason = "modRule"

// Default block reason for block rules without one.
const DefaultBlockReason = "moderation rule"

// The zero value is usable, without a decode cache.
type Engine struct {
	Logger *slog.Logger
	// decoded definitions, keyed by definition text
	compiled *lru.Cache[string, Predicate]
}

func NewEngine(logger *slog.Logger) *Engine {
	// only errors for non-positive size
	c, _ := lru.New[string, Predicate](1024)
	return &Engine{
		Logger:   logger,
		compiled: c,
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) predicate(rule *models.ModerationRule) (Predicate, error) {
	if e.compiled == nil {
		return Decode([]byte(rule.Definition))
	}
	if p, ok := e.compiled.Get(rule.Definition); ok {
		return p, nil
	}
	p, err := Decode([]byte(rule.Definition))
	if err != nil {
		return nil, err
	}
	e.compiled.Add(rule.Definition, p)
	return p, nil
}

func (e *Engine) evalRule(rule *models.ModerationRule, s *Subject) (matched bool, err error) {
	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			err = &RuleEvaluationError{RuleID: rule.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if !rule.Action.Valid() {
		return false, &RuleEvaluationError{RuleID: rule.ID, Err: fmt.Errorf("unknown action %q", rule.Action)}
	}
	p, err := e.predicate(rule)
	if err != nil {
		return false, &RuleEvaluationError{RuleID: rule.ID, Err: err}
	}
	return p.Match(s), nil
}

// Returns the first matching enabled rule, or nil. Also returns every rule error encountered along the way; these are already logged.
func (e *Engine) Evaluate(rules []models.ModerationRule, s *Subject) (*Match, []error) {
	var errs []error
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		ok, err := e.evalRule(rule, s)
		if err != nil {
			e.logger().Warn("skipping moderation rule", "rule", rule.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		m := &Match{Rule: *rule, Action: rule.Action, Reason: rule.Reason}
		if m.Reason == "" {
			switch rule.Action {
			case models.RuleActionHold:
				m.Reason = DefaultHoldReason
			case models.RuleActionBlock:
				m.Reason = DefaultBlockReason
			}
		}
		return m, errs
	}
	return nil, errs
}

// Builds the rule subject for a media item.
func SubjectFor(media *models.MediaItem, tagNames []string, lvl int) *Subject {
	return &Subject{
		Tags: tagNames,
		Fields: map[string]string{
			"prompt":         media.Prompt,
			"negativePrompt": media.NegativePrompt,
			"generationTool": media.GenerationTool,
			"level":          strconv.Itoa(lvl),
			"userId":         strconv.FormatInt(media.UserID, 10),
		},
	}
}
