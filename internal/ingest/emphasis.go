package ingest

import "regexp"

// DetectEmphasis reports whether the user explicitly flagged text as
// worth remembering. The production heuristic is an external
// collaborator's semantic projection; this package treats it as an opaque
// boolean and ships a pattern fallback. Swap via Classifier.Emphasis.
func DetectEmphasis(text string) bool {
	return emphasisPattern.MatchString(text)
}

var emphasisPattern = regexp.MustCompile(`(?i)\b(remember this|remember that|don't forget|do not forget|my name is|call me|important:)\b|记住|别忘了|我叫|重要`)
