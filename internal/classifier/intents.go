package classifier

import (
	"strings"

	prose "github.com/jdkato/prose/v2"
)

// intentKeywords maps intent labels to trigger tokens. Order fixes the
// output order, which keeps top-intent rankings deterministic.
var intentKeywords = []struct {
	label    string
	keywords []string
}{
	{"pricing", []string{"price", "pricing", "cost", "expensive", "cheap", "billing", "charge", "refund", "subscription"}},
	{"support", []string{"support", "help", "assistance", "respond", "response", "ticket", "agent"}},
	{"bug", []string{"bug", "crash", "error", "broken", "fails", "failure", "glitch", "freeze"}},
	{"feature_request", []string{"feature", "request", "wish", "add", "missing", "integration", "option"}},
	{"performance", []string{"slow", "fast", "lag", "performance", "speed", "loading", "timeout"}},
	{"ux", []string{"ui", "ux", "design", "interface", "confusing", "intuitive", "layout", "navigation"}},
	{"praise", []string{"great", "love", "excellent", "awesome", "amazing", "fantastic", "perfect", "best"}},
	{"complaint", []string{"terrible", "awful", "worst", "hate", "disappointed", "frustrating", "useless"}},
}

// DetectIntents extracts topical intent labels from plain feedback text.
// Tokenization falls back to whitespace splitting if the NLP pipeline
// cannot be built for the input.
func DetectIntents(text string) []string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	present := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		present[strings.ToLower(tok)] = true
	}

	var intents []string
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if present[kw] {
				intents = append(intents, entry.label)
				break
			}
		}
	}

	return intents
}

func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return strings.Fields(text)
	}

	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tok.Text)
	}
	return out
}
