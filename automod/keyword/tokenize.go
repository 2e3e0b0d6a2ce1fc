package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	// extra networks, eg "<lora:someName:0.8>" or "<hypernet:foo:1>"
	promptNetworks = regexp.MustCompile(`<[^<>]*>`)
	// attention weights, eg "(masterpiece:1.2)" or "[word:0.5]"
	promptWeights = regexp.MustCompile(`:\s*-?[0-9]*\.?[0-9]+\s*([)\]])`)
	promptBreaks  = regexp.MustCompile(`\bBREAK\b`)
)

// Splits free-form text in to tokens, including lower-case, unicode normalization, and some unicode folding (removal of combining marks).
func TokenizeText(text string) []string {
	// this function needs to be re-defined in every function call to prevent a race condition
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	normed, _, err := transform.String(normFunc, bare)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		normed = bare
	}
	return strings.Fields(normed)
}

// Removes generation-tool syntax from a prompt (extra network references, attention weights, BREAK keywords), leaving only the descriptive text.
func StripPromptSyntax(prompt string) string {
	out := promptNetworks.ReplaceAllString(prompt, " ")
	out = promptWeights.ReplaceAllString(out, "$1")
	out = promptBreaks.ReplaceAllString(out, " ")
	return out
}

// Tokenizes an image generation prompt.
func TokenizePrompt(prompt string) []string {
	return TokenizeText(StripPromptSyntax(prompt))
}
