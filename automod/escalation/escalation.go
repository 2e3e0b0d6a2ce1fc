// Selects at most one review escalation reason for a fully scanned media item.
//
// Stages are evaluated in priority order; the first one to fire determines the recorded reason and the reviewer class. All stages are still evaluated, so that sticky facts (eg, point-of-interest) are captured even when a higher-priority reason wins.
package escalation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluesky-social/mediamod/automod/keyword"
	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/automod/reconcile"
	"github.com/bluesky-social/mediamod/automod/setstore"
	"github.com/bluesky-social/mediamod/models"
)

type Reviewer string

const (
	ReviewerModerator = Reviewer("moderator")
	ReviewerSenior    = Reviewer("senior")
	ReviewerCommunity = Reviewer("community")
)

const (
	ReasonPOI        = "poi"
	ReasonMinor      = "minor"
	ReasonTag        = "tag"
	ReasonModeration = "moderation"
	ReasonNewUser    = "newUser"
)

// Names of sets consulted by the default stages.
const (
	SetPOINames     = reconcile.SetPOINames
	SetPOITags      = "poi-tags"
	SetMinorTags    = "minor-tags"
	SetAdultTags    = "adult-tags"
	SetStylizedTags = "stylized-tags"
	SetMinorTerms   = "minor-terms"
)

// Everything the stages look at. Tags should be the full reconciled set for the media item, across all sources.
type Input struct {
	Media *models.MediaItem
	Tags  []reconcile.ResolvedTag
	// aggregated severity
	Level int
	// any linked resource is known to depict minors
	ResourceMinor bool
	NewUser       bool
}

type Result struct {
	Stage    string
	Reason   string
	Reviewer Reviewer
	// human-readable, for logs
	Detail string
}

type Stage struct {
	Name string
	Eval func(ctx context.Context, ev *Evaluator, in *Input) (*Result, error)
}

type Outcome struct {
	// highest-priority result, or nil if no stage fired
	Winner *Result
	// every stage which fired, in priority order
	Fired []Result
}

func (o *Outcome) FiredStage(name string) bool {
	for _, r := range o.Fired {
		if r.Stage == name {
			return true
		}
	}
	return false
}

type Evaluator struct {
	Sets setstore.SetStore
	// defaults to DefaultStages() when nil
	Stages    []Stage
	Compounds []Compound
}

func DefaultStages() []Stage {
	return []Stage{
		{Name: "poi", Eval: poiStage},
		{Name: "minor", Eval: minorStage},
		{Name: "tag", Eval: tagStage},
		{Name: "newUser", Eval: newUserStage},
	}
}

func (ev *Evaluator) Evaluate(ctx context.Context, in *Input) (*Outcome, error) {
	stages := ev.Stages
	if stages == nil {
		stages = DefaultStages()
	}
	out := &Outcome{}
	for _, st := range stages {
		res, err := st.Eval(ctx, ev, in)
		if err != nil {
			return nil, fmt.Errorf("escalation stage %s: %w", st.Name, err)
		}
		if res == nil {
			continue
		}
		res.Stage = st.Name
		out.Fired = append(out.Fired, *res)
		if out.Winner == nil {
			w := *res
			out.Winner = &w
		}
	}
	return out, nil
}

// names of non-disabled tags
func activeNames(tags []reconcile.ResolvedTag) []string {
	return reconcile.Names(tags, false)
}

func (ev *Evaluator) anyInSet(ctx context.Context, set string, names []string) (string, error) {
	for _, n := range names {
		ok, err := ev.Sets.InSet(ctx, set, n)
		if err != nil {
			return "", err
		}
		if ok {
			return n, nil
		}
	}
	return "", nil
}

// Age tags are emitted as "child-<years>" by the severity and age scanners.
func IsYoungAgeTag(name string) bool {
	suffix, ok := strings.CutPrefix(name, "child-")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

func hasYoungAge(names []string) bool {
	for _, n := range names {
		if IsYoungAgeTag(n) {
			return true
		}
	}
	return false
}

// highest rating ladder position among the names, or -1
func ladderRank(names []string) int {
	best := -1
	for _, n := range names {
		if r := level.LadderRank(n); r > best {
			best = r
		}
	}
	return best
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func poiStage(ctx context.Context, ev *Evaluator, in *Input) (*Result, error) {
	names := activeNames(in.Tags)
	for _, set := range []string{SetPOITags, SetPOINames} {
		hit, err := ev.anyInSet(ctx, set, names)
		if err != nil {
			return nil, err
		}
		if hit != "" {
			return &Result{Reason: ReasonPOI, Reviewer: ReviewerModerator, Detail: "poi tag: " + hit}, nil
		}
	}
	if in.Media.PointOfInterest {
		return &Result{Reason: ReasonPOI, Reviewer: ReviewerModerator, Detail: "previously flagged"}, nil
	}
	if in.Media.Prompt != "" {
		poi, err := ev.Sets.Members(ctx, SetPOINames)
		if err != nil {
			return nil, err
		}
		if m := keyword.MatchPhrases(keyword.TokenizePrompt(in.Media.Prompt), poi); len(m) > 0 {
			return &Result{Reason: ReasonPOI, Reviewer: ReviewerModerator, Detail: "prompt mentions " + m[0]}, nil
		}
	}
	return nil, nil
}

func minorStage(ctx context.Context, ev *Evaluator, in *Input) (*Result, error) {
	names := activeNames(in.Tags)
	found := func(detail string) (*Result, error) {
		return &Result{Reason: ReasonMinor, Reviewer: ReviewerSenior, Detail: detail}, nil
	}

	minorTag, err := ev.anyInSet(ctx, SetMinorTags, names)
	if err != nil {
		return nil, err
	}
	if minorTag != "" {
		adultTag, err := ev.anyInSet(ctx, SetAdultTags, names)
		if err != nil {
			return nil, err
		}
		stylized, err := ev.anyInSet(ctx, SetStylizedTags, names)
		if err != nil {
			return nil, err
		}
		// stylized content only gets a pass when it is also safe
		exempt := stylized != "" && !level.IsNSFW(in.Level)
		if adultTag == "" && !exempt {
			return found("minor tag: " + minorTag)
		}
	}

	if hasYoungAge(names) {
		rank := ladderRank(names)
		if rank == level.LadderRank("pg") {
			return found("pg with young age")
		}
		if rank >= level.LadderRank("pg-13") && contains(names, "realistic") {
			return found("realistic " + level.Ladder[rank] + " with young age")
		}
	}

	if in.ResourceMinor {
		return found("resource depicts minor")
	}
	if in.Media.MinorDepiction {
		return found("previously flagged")
	}

	if in.Media.Prompt != "" {
		terms, err := ev.Sets.Members(ctx, SetMinorTerms)
		if err != nil {
			return nil, err
		}
		if keyword.PromptMentionsMinor(in.Media.Prompt, in.Media.NegativePrompt, terms) {
			return found("prompt mentions minor")
		}
	}
	return nil, nil
}

// Tag which escalates only in combination with at least MinLevel aggregated severity.
type Compound struct {
	Tag      string
	MinLevel int
}

var DefaultCompounds = []Compound{
	{Tag: "unconscious", MinLevel: level.R},
	{Tag: "sleeping", MinLevel: level.X},
	{Tag: "violence", MinLevel: level.X},
}

func tagStage(ctx context.Context, ev *Evaluator, in *Input) (*Result, error) {
	var blocked []string
	for _, t := range in.Tags {
		if t.Blocked {
			blocked = append(blocked, t.Name)
		}
	}
	if len(blocked) > 0 {
		return &Result{Reason: ReasonTag, Reviewer: ReviewerModerator, Detail: "blocked tags: " + strings.Join(blocked, ", ")}, nil
	}

	compounds := ev.Compounds
	if compounds == nil {
		compounds = DefaultCompounds
	}
	names := activeNames(in.Tags)
	for _, c := range compounds {
		if in.Level >= c.MinLevel && contains(names, c.Tag) {
			return &Result{Reason: ReasonModeration, Reviewer: ReviewerModerator, Detail: fmt.Sprintf("%s at %s", c.Tag, level.Name(in.Level))}, nil
		}
	}
	return nil, nil
}

func newUserStage(ctx context.Context, ev *Evaluator, in *Input) (*Result, error) {
	if in.NewUser && level.IsNSFW(in.Level) {
		return &Result{Reason: ReasonNewUser, Reviewer: ReviewerCommunity, Detail: "nsfw upload from new account"}, nil
	}
	return nil, nil
}
