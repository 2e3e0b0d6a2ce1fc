package keyword

import (
	"fmt"
	"strings"
)

// Term lists used by the prompt audit. Usually loaded from the engine's set store.
type AuditLists struct {
	// terms which are never allowed in a prompt for nsfw content
	Blocked []string
	// terms indicating a minor is depicted
	Minor []string
	// terms indicating sexual or explicit content
	NSFW []string
}

type AuditResult struct {
	Success bool
	// human-readable reason, only set on failure
	Cause string
	// the terms that triggered failure
	Matched []string
}

// Checks a generation prompt for disallowed content. The negative prompt is only used to discount minor terms: a prompt which excludes minors (eg, "child" in the negative prompt) is not treated as depicting them.
func AuditPrompt(prompt, negativePrompt string, lists AuditLists) AuditResult {
	tokens := TokenizePrompt(prompt)
	if len(tokens) == 0 {
		return AuditResult{Success: true}
	}

	if blocked := MatchPhrases(tokens, lists.Blocked); len(blocked) > 0 {
		return AuditResult{
			Cause:   fmt.Sprintf("prompt contains blocked terms: %s", strings.Join(blocked, ", ")),
			Matched: blocked,
		}
	}

	minor := MatchPhrases(tokens, lists.Minor)
	if len(minor) > 0 && negativePrompt != "" {
		negated := MatchPhrases(TokenizePrompt(negativePrompt), minor)
		minor = subtract(minor, negated)
	}
	nsfw := MatchPhrases(tokens, lists.NSFW)
	if len(minor) > 0 && len(nsfw) > 0 {
		return AuditResult{
			Cause:   "prompt combines minor and nsfw terms",
			Matched: append(minor, nsfw...),
		}
	}
	return AuditResult{Success: true}
}

// Whether the prompt mentions any minor-indicating term (not discounted by the negative prompt).
func PromptMentionsMinor(prompt, negativePrompt string, minorTerms []string) bool {
	minor := MatchPhrases(TokenizePrompt(prompt), minorTerms)
	if len(minor) == 0 {
		return false
	}
	if negativePrompt != "" {
		minor = subtract(minor, MatchPhrases(TokenizePrompt(negativePrompt), minor))
	}
	return len(minor) > 0
}

func subtract(vals, remove []string) []string {
	out := []string{}
	for _, v := range vals {
		if !TokenInSet(v, remove) {
			out = append(out, v)
		}
	}
	return out
}
