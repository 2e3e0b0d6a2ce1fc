package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/bluesky-social/mediamod/automod/escalation"
	"github.com/bluesky-social/mediamod/automod/keyword"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/modrule"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/models"
)

// Names of sets consulted by the default decision stages.
const (
	SetAIGenerationTools   = "ai-generation-tools"
	SetRestrictedResources = "restricted-resources"
	SetPromptBlockedTerms  = "prompt-blocked-terms"
	SetNSFWTerms           = "nsfw-terms"
)

const (
	ReasonUnverifiedAI     = "unverified AI generation"
	ReasonPolicyViolation  = "policy violation"
	blockedTagReasonPrefix = "blocked tag: "
)

// Everything known about a media item once the gate has opened.
type Facts struct {
	Media *models.MediaItem
	// reconciled tags across all sources
	Tags       []reconcile.ResolvedTag
	Level      int
	Escalation *escalation.Outcome
	// first matching moderation rule, if any
	Rule *modrule.Match
}

// Terminal verdict from a decision stage. Only Blocked verdicts come from stages; Scanned is the fallback.
type Verdict struct {
	State       models.IngestionState
	BlockReason string
}

type DecisionStage struct {
	Name   string
	Decide func(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error)
}

const StageScanned = "scanned"

// Blocking stages in priority order. The first to return a verdict wins.
func DefaultDecisionStages() []DecisionStage {
	return []DecisionStage{
		{Name: "aiVerification", Decide: aiVerificationStage},
		{Name: "restrictedResource", Decide: restrictedResourceStage},
		{Name: "promptAudit", Decide: promptAuditStage},
		{Name: "moderationRule", Decide: moderationRuleStage},
		{Name: "blockedTag", Decide: blockedTagStage},
	}
}

func blocked(reason string) *Verdict {
	return &Verdict{State: models.StateBlocked, BlockReason: reason}
}

// Runs stages in order, falling back to Scanned. Returns the deciding stage name.
func (eng *Engine) runStages(ctx context.Context, f *Facts) (string, *Verdict, error) {
	stages := eng.Stages
	if stages == nil {
		stages = DefaultDecisionStages()
	}
	for _, st := range stages {
		v, err := st.Decide(ctx, eng, f)
		if err != nil {
			return "", nil, err
		}
		if v != nil {
			return st.Name, v, nil
		}
	}
	return StageScanned, &Verdict{State: models.StateScanned}, nil
}

// Review reason for a Scanned item: a Hold rule wins over heuristic escalation, and an Approve rule clears both.
func reviewReason(f *Facts) *string {
	if f.Rule != nil {
		switch f.Rule.Action {
		case models.RuleActionHold:
			r := f.Rule.Reason
			return &r
		case models.RuleActionApprove:
			return nil
		}
	}
	if f.Escalation != nil && f.Escalation.Winner != nil {
		r := f.Escalation.Winner.Reason
		return &r
	}
	return nil
}

func aiVerificationStage(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error) {
	if !level.IsNSFW(f.Level) {
		return nil, nil
	}
	m := f.Media
	if m.Prompt != "" || len(m.ResourceIDs) > 0 {
		return nil, nil
	}
	if m.GenerationTool != "" {
		ok, err := eng.Sets.InSet(ctx, SetAIGenerationTools, strings.ToLower(m.GenerationTool))
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
	}
	return blocked(ReasonUnverifiedAI), nil
}

func restrictedResourceStage(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error) {
	if !level.IsNSFW(f.Level) {
		return nil, nil
	}
	for _, id := range f.Media.ResourceIDs {
		ok, err := eng.Sets.InSet(ctx, SetRestrictedResources, strconv.FormatInt(id, 10))
		if err != nil {
			return nil, err
		}
		if ok {
			return blocked(ReasonPolicyViolation), nil
		}
	}
	return nil, nil
}

func promptAuditStage(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error) {
	if !level.IsNSFW(f.Level) || f.Media.Prompt == "" {
		return nil, nil
	}
	var lists keyword.AuditLists
	var err error
	if lists.Blocked, err = eng.Sets.Members(ctx, SetPromptBlockedTerms); err != nil {
		return nil, err
	}
	if lists.Minor, err = eng.Sets.Members(ctx, escalation.SetMinorTerms); err != nil {
		return nil, err
	}
	if lists.NSFW, err = eng.Sets.Members(ctx, SetNSFWTerms); err != nil {
		return nil, err
	}
	res := keyword.AuditPrompt(f.Media.Prompt, f.Media.NegativePrompt, lists)
	if res.Success {
		return nil, nil
	}
	return blocked(res.Cause), nil
}

func moderationRuleStage(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error) {
	if f.Rule != nil && f.Rule.Action == models.RuleActionBlock {
		return blocked(f.Rule.Reason), nil
	}
	return nil, nil
}

func blockedTagStage(ctx context.Context, eng *Engine, f *Facts) (*Verdict, error) {
	if f.Rule != nil && f.Rule.Action == models.RuleActionApprove {
		return nil, nil
	}
	var names []string
	for _, t := range f.Tags {
		if t.Blocked && !containsString(names, t.Name) {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	return blocked(blockedTagReasonPrefix + strings.Join(names, ", ")), nil
}

func containsString(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}
	return false
}
