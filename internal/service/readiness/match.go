package readiness

import "strings"

const latestSuffix = ":latest"

// MatchModel reports whether requested names one of the available models.
// A bare name matches its ":latest" tag; nothing else is normalized, so
// "llama3" never matches "llama3.1" or "llama3:8b".
func MatchModel(requested string, available []string) bool {
	if requested == "" {
		return false
	}
	for _, name := range available {
		switch {
		case name == requested:
			return true
		case name == requested+latestSuffix:
			return true
		case strings.TrimSuffix(name, latestSuffix) == requested:
			return true
		}
	}
	return false
}
