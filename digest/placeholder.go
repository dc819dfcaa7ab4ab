package digest

import "os"

// isOfflinePlaceholder reports whether fi describes a file that belongs to
// a non-materialised cloud storage placeholder (e.g. an evicted iCloud or
// OneDrive file) rather than real on-disk content. This build treats every
// file as materialised; no platform-specific variant that reads
// reparse-point/attribute bits exists in this package.
func isOfflinePlaceholder(fi os.FileInfo) bool {
	return false
}
