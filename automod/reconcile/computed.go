package reconcile

import (
	"slices"
	"strings"

	"github.com/bluesky-social/mediamod/automod/scan"
)

// Source-agnostic inference over tag names already present. A rule fires when any listed name, or any name with a listed prefix, is present.
type ComputedRule struct {
	Tag       string
	AnyOf     []string
	AnyPrefix []string
}

var DefaultComputedRules = []ComputedRule{
	{Tag: "minor", AnyPrefix: []string{"child-"}},
	{Tag: "stylized", AnyOf: []string{"anime", "cartoon", "illustration", "comic", "3d render", "animated", "drawing"}},
	{Tag: "violence", AnyOf: []string{"gore", "blood", "corpse", "weapon violence"}},
}

func (cr ComputedRule) matches(name string) bool {
	if slices.Contains(cr.AnyOf, name) {
		return true
	}
	for _, p := range cr.AnyPrefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Appends computed tags which are not already present. Rules only see the input tags, not each other's output.
func appendComputed(cands []candidate, rules []ComputedRule) []candidate {
	present := make(map[string]bool, len(cands))
	for _, c := range cands {
		present[c.name] = true
	}
	n := len(cands)
	for _, rule := range rules {
		if present[rule.Tag] {
			continue
		}
		for _, c := range cands[:n] {
			if rule.matches(c.name) {
				cands = append(cands, candidate{name: rule.Tag, source: scan.SourceComputed, confidence: ComputedTagConfidence})
				present[rule.Tag] = true
				break
			}
		}
	}
	return cands
}
