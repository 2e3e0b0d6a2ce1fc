package keyword

import (
	"slices"
	"strings"
)

// Helper to check a single token against a list of tokens
func TokenInSet(tok string, set []string) bool {
	return slices.Contains(set, tok)
}

// Checks whether the (possibly multi-word) phrase occurs as a run of consecutive tokens.
func ContainsPhrase(tokens []string, phrase string) bool {
	want := TokenizeText(phrase)
	if len(want) == 0 || len(want) > len(tokens) {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		if slices.Equal(tokens[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

// Returns every phrase from the list which occurs in the tokens, in list order and without duplicates. Returned values are the tokenized form joined by single spaces.
func MatchPhrases(tokens []string, phrases []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range phrases {
		canon := strings.Join(TokenizeText(p), " ")
		if canon == "" || seen[canon] {
			continue
		}
		if ContainsPhrase(tokens, canon) {
			out = append(out, canon)
			seen[canon] = true
		}
	}
	return out
}
