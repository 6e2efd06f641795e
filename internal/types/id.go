package types

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

// idSuffixAlphabet is the character set for the random ID suffix.
const idSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewMessageID generates a message ID of the form
// <TYPE>-<base36 epoch ms>-<3 random upper-alphanumeric>, e.g.
// CONTRACT-m3kz81xq-7QF.
func NewMessageID(t MessageType, now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)

	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	suffix := make([]byte, 3)
	for i, b := range buf {
		suffix[i] = idSuffixAlphabet[int(b)%len(idSuffixAlphabet)]
	}

	return strings.ToUpper(string(t)) + "-" + ts + "-" + string(suffix)
}

// threadSuffix terminates every thread identifier.
const threadSuffix = "-thread"

// ThreadIDFor derives the thread ID owned by the given originating message.
func ThreadIDFor(messageID string) string {
	return messageID + threadSuffix
}

// IsThreadID reports whether the identifier names a thread rather than a
// message.
func IsThreadID(id string) bool {
	return strings.HasSuffix(id, threadSuffix)
}
