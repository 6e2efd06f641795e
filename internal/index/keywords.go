package index

import (
	"regexp"
	"strings"

	"github.com/ccproto/ccp/internal/types"
)

// techKeywords are the technology tags derived from message text.
var techKeywords = []string{
	"api", "database", "auth", "security", "frontend", "backend", "ui", "bug", "performance",
}

// SupplementalTags derives extra tags from a message's subject and summary:
// technology keywords found in the text, urgent for CRITICAL priority, and
// always the message type itself. Existing tags are preserved in order.
func SupplementalTags(subject, summary string, priority types.Priority, msgType types.MessageType, existing []string) []string {
	text := strings.ToLower(subject + " " + summary)

	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+4)
	add := func(tag string) {
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	for _, t := range existing {
		add(t)
	}
	for _, kw := range techKeywords {
		if strings.Contains(text, kw) {
			add(kw)
		}
	}
	if priority == types.PriorityCritical {
		add("urgent")
	}
	add(string(msgType))

	return out
}

var (
	ftsSanitize = regexp.MustCompile(`[^\w\s-]`)
	ftsCollapse = regexp.MustCompile(`\s+`)
	wordPattern = regexp.MustCompile(`[a-z0-9]+`)
)

// BuildMatch turns a free-text query into an FTS match expression. A single
// word becomes a prefix match; multiple words become a phrase alternative
// OR'd with the individual words. Empty sanitized input yields "".
func BuildMatch(query string) string {
	sanitized := ftsSanitize.ReplaceAllString(query, " ")
	sanitized = strings.TrimSpace(ftsCollapse.ReplaceAllString(sanitized, " "))
	if sanitized == "" {
		return ""
	}

	words := strings.Split(sanitized, " ")
	if len(words) == 1 {
		return `"` + words[0] + `"*`
	}

	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = `"` + w + `"`
	}
	return `("` + sanitized + `") OR (` + strings.Join(quoted, " OR ") + `)`
}

// stopWords are excluded from related-message keyword extraction.
var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"been": true, "were": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "into": true, "over": true, "under": true,
	"then": true, "than": true, "them": true, "they": true, "their": true,
	"there": true, "here": true, "when": true, "what": true, "which": true,
	"where": true, "some": true, "more": true, "most": true, "other": true,
	"such": true, "only": true, "also": true, "just": true, "very": true,
	"please": true, "need": true, "needs": true, "update": true, "message": true,
}

// ExtractKeywords pulls search keywords from text: lowercase alphanumeric
// runs longer than three characters, stop words removed, deduplicated in
// order, capped at max.
func ExtractKeywords(text string, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= max {
			break
		}
	}
	return out
}

// MatchContext returns a window of roughly the given width centered on the
// first query word found in the text, or "" when nothing matches.
func MatchContext(query, text string, width int) string {
	if width <= 0 {
		width = 100
	}
	lower := strings.ToLower(text)
	idx := -1
	for _, w := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if i := strings.Index(lower, w); i >= 0 && (idx == -1 || i < idx) {
			idx = i
		}
	}
	if idx < 0 {
		return ""
	}
	start := idx - width/2
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
