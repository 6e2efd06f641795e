package messages

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Data directory layout under the coordination root:
//
//	coordination.db
//	locks/coordination.lock
//	messages/active/<thread_id>/<message_id>.md
//	messages/archive/<yyyy>/<MM>/<file>

// DatabasePath returns the store file location for a data directory.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "coordination.db")
}

// ActiveContentRef returns the relative sidecar path for a message's full
// content.
func ActiveContentRef(threadID, messageID string) string {
	return filepath.Join("messages", "active", threadID, messageID+".md")
}

// ArchiveDir returns the relative dated archive directory for time t.
func ArchiveDir(t time.Time) string {
	return filepath.Join("messages", "archive",
		fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())))
}

// ArchiveRef returns the relative archive path for a sidecar basename.
func ArchiveRef(t time.Time, basename string) string {
	return filepath.Join(ArchiveDir(t), basename)
}

// moveToArchive relocates a sidecar file into the dated archive directory.
// The move happens via rename after the owning row has committed, so a
// crash leaves a correct row and a stale file rather than a ghost row.
func moveToArchive(dataDir, contentRef string, now time.Time) error {
	src := filepath.Join(dataDir, contentRef)
	dstDir := filepath.Join(dataDir, ArchiveDir(now))
	if err := os.MkdirAll(dstDir, 0o750); err != nil {
		return err
	}
	return os.Rename(src, filepath.Join(dstDir, filepath.Base(contentRef)))
}
