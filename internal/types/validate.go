package types

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxSubjectLength caps the subject line.
	MaxSubjectLength = 200

	// SummaryLength is the truncation point for derived summaries.
	SummaryLength = 500

	// InlineContentLimit is the largest content stored inline; anything
	// longer moves to a sidecar file.
	InlineContentLimit = 1000

	// DefaultExpiryHours is applied when the caller does not set an expiry.
	DefaultExpiryHours = 168

	// Broadcast is the pseudo-recipient that addresses every participant.
	// It does not satisfy the participant ID pattern and is never registered.
	Broadcast = "@all"

	// SystemActor is the reserved identity used for auto-compaction and
	// summary messages.
	SystemActor = "@system"

	// DependsTagPrefix marks a tag that declares a dependency on a prior
	// message.
	DependsTagPrefix = "depends:"

	// ResponseTagPrefix marks a tag linking a response to its original.
	ResponseTagPrefix = "response_to:"
)

// participantIDPattern: @ then a letter then up to 30 letters, digits,
// underscores, or hyphens.
var participantIDPattern = regexp.MustCompile(`^@[a-zA-Z][a-zA-Z0-9_-]{0,30}$`)

// reservedParticipantIDs may not be registered by users.
var reservedParticipantIDs = map[string]bool{
	"@system":    true,
	"@admin":     true,
	"@root":      true,
	"@null":      true,
	"@undefined": true,
}

// ValidParticipantID reports whether id matches the participant ID pattern.
func ValidParticipantID(id string) bool {
	return participantIDPattern.MatchString(id)
}

// IsReservedParticipantID reports whether id is reserved for internal use.
func IsReservedParticipantID(id string) bool {
	return reservedParticipantIDs[strings.ToLower(id)]
}

// ValidateParticipantID checks a participant ID for registration. Reserved
// literals are rejected even though @system is used internally as an actor.
func ValidateParticipantID(id string) error {
	if !ValidParticipantID(id) {
		return fmt.Errorf("invalid participant id %q (expected @name, a letter then up to 30 letters/digits/_/-)", id)
	}
	if IsReservedParticipantID(id) {
		return fmt.Errorf("participant id %q is reserved", id)
	}
	return nil
}

// Validate checks the participant record for internal consistency.
func (p *Participant) Validate() error {
	if err := ValidateParticipantID(p.ID); err != nil {
		return err
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("invalid participant status %q", p.Status)
	}
	if !p.DefaultPriority.IsValid() {
		return fmt.Errorf("invalid default priority %q", p.DefaultPriority)
	}
	return nil
}

// Summarize derives a message summary from raw content: verbatim when the
// content fits, otherwise the first SummaryLength characters plus an
// ellipsis.
func Summarize(content string) string {
	if len(content) <= SummaryLength {
		return content
	}
	return content[:SummaryLength] + "..."
}

// ExtractDependencies splits depends: tags out of a tag list, returning the
// referenced message IDs and the remaining tags.
func ExtractDependencies(tags []string) (deps []string, rest []string) {
	for _, tag := range tags {
		if strings.HasPrefix(tag, DependsTagPrefix) {
			if id := strings.TrimPrefix(tag, DependsTagPrefix); id != "" {
				deps = append(deps, id)
			}
			continue
		}
		rest = append(rest, tag)
	}
	return deps, rest
}
