package executor

// variationHints are cycled across retries so consecutive attempts never
// replay identical input. Attempt 1 carries no hint.
var variationHints = []string{
	"Try again with different capitalization of names and identifiers.",
	"Try again with an alternative spelling or a close synonym for the failing term.",
	"Try again with the input restructured, for example a fully qualified form or a different argument layout.",
}

// variationHint returns the hint for the given attempt number (2 and up).
func variationHint(attempt int) string {
	if attempt < 2 {
		return ""
	}
	return variationHints[(attempt-2)%len(variationHints)]
}
