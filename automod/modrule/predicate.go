package modrule

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Facts about a media item which rules can test.
type Subject struct {
	// non-disabled tag names
	Tags []string
	// metadata fields, eg "prompt", "negativePrompt", "generationTool", "level"
	Fields map[string]string
}

func (s *Subject) HasTag(name string) bool {
	return slices.Contains(s.Tags, name)
}

// Decoded rule definition. The set of implementations is closed: see Decode.
type Predicate interface {
	Match(s *Subject) bool
}

type TagPredicate struct {
	Tag string
}

func (p TagPredicate) Match(s *Subject) bool {
	return s.HasTag(p.Tag)
}

type AnyTagPredicate struct {
	Tags []string
}

func (p AnyTagPredicate) Match(s *Subject) bool {
	return slices.ContainsFunc(p.Tags, s.HasTag)
}

type AllTagsPredicate struct {
	Tags []string
}

func (p AllTagsPredicate) Match(s *Subject) bool {
	for _, t := range p.Tags {
		if !s.HasTag(t) {
			return false
		}
	}
	return true
}

// Case-insensitive substring match on a metadata field.
type FieldContainsPredicate struct {
	Field string
	Value string
}

func (p FieldContainsPredicate) Match(s *Subject) bool {
	return strings.Contains(strings.ToLower(s.Fields[p.Field]), strings.ToLower(p.Value))
}

type FieldMatchesPredicate struct {
	Field   string
	Pattern *regexp.Regexp
}

func (p FieldMatchesPredicate) Match(s *Subject) bool {
	return p.Pattern.MatchString(s.Fields[p.Field])
}

type AndPredicate struct {
	Rules []Predicate
}

func (p AndPredicate) Match(s *Subject) bool {
	for _, r := range p.Rules {
		if !r.Match(s) {
			return false
		}
	}
	return true
}

type OrPredicate struct {
	Rules []Predicate
}

func (p OrPredicate) Match(s *Subject) bool {
	for _, r := range p.Rules {
		if r.Match(s) {
			return true
		}
	}
	return false
}

type NotPredicate struct {
	Rule Predicate
}

func (p NotPredicate) Match(s *Subject) bool {
	return !p.Rule.Match(s)
}

// wire format of a definition node
type node struct {
	Type    string            `json:"type"`
	Tag     string            `json:"tag,omitempty"`
	Tags    []string          `json:"tags,omitempty"`
	Field   string            `json:"field,omitempty"`
	Value   string            `json:"value,omitempty"`
	Pattern string            `json:"pattern,omitempty"`
	Rules   []json.RawMessage `json:"rules,omitempty"`
	Rule    json.RawMessage   `json:"rule,omitempty"`
}

var ErrEmptyDefinition = errors.New("empty rule definition")

// Nesting deeper than this is rejected, so a hostile definition can't blow the stack.
const MaxDepth = 16

// Parses a JSON rule definition.
func Decode(raw []byte) (Predicate, error) {
	return decode(raw, 0)
}

func decode(raw []byte, depth int) (Predicate, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("rule definition nested deeper than %d", MaxDepth)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrEmptyDefinition
	}
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decoding rule definition: %w", err)
	}
	switch n.Type {
	case "tag":
		if n.Tag == "" {
			return nil, fmt.Errorf("tag predicate missing tag")
		}
		return TagPredicate{Tag: n.Tag}, nil
	case "anyTag":
		if len(n.Tags) == 0 {
			return nil, fmt.Errorf("anyTag predicate missing tags")
		}
		return AnyTagPredicate{Tags: n.Tags}, nil
	case "allTags":
		if len(n.Tags) == 0 {
			return nil, fmt.Errorf("allTags predicate missing tags")
		}
		return AllTagsPredicate{Tags: n.Tags}, nil
	case "fieldContains":
		if n.Field == "" || n.Value == "" {
			return nil, fmt.Errorf("fieldContains predicate needs field and value")
		}
		return FieldContainsPredicate{Field: n.Field, Value: n.Value}, nil
	case "fieldMatches":
		if n.Field == "" || n.Pattern == "" {
			return nil, fmt.Errorf("fieldMatches predicate needs field and pattern")
		}
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return nil, fmt.Errorf("fieldMatches pattern: %w", err)
		}
		return FieldMatchesPredicate{Field: n.Field, Pattern: re}, nil
	case "and", "or":
		if len(n.Rules) == 0 {
			return nil, fmt.Errorf("%s predicate has no rules", n.Type)
		}
		children := make([]Predicate, 0, len(n.Rules))
		for _, r := range n.Rules {
			c, err := decode(r, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if n.Type == "and" {
			return AndPredicate{Rules: children}, nil
		}
		return OrPredicate{Rules: children}, nil
	case "not":
		c, err := decode(n.Rule, depth+1)
		if err != nil {
			return nil, err
		}
		return NotPredicate{Rule: c}, nil
	case "":
		return nil, fmt.Errorf("rule definition missing type")
	default:
		return nil, fmt.Errorf("unknown predicate type: %q", n.Type)
	}
}
