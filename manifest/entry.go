// Package manifest builds the deterministic, filtered, digest-annotated
// list of source files that the destination schedulers copy (§4.2).
package manifest

// Entry is one accepted source file (FileManifestEntry, §3).
type Entry struct {
	RelativePath       string
	SourceAbsolutePath string
	SizeBytes          int64
	Digest             string
}

// Manifest is an ordered, deduplicated set of Entry records for one source
// root under one filter. Iteration order is stable within a single build
// but need not be lexicographic (§4.2).
type Manifest struct {
	entries []Entry
}

// Entries returns the manifest's entries in build order.
func (m *Manifest) Entries() []Entry {
	return m.entries
}

// Len returns the number of entries in the manifest.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// TotalBytes returns the sum of SizeBytes across all entries.
func (m *Manifest) TotalBytes() int64 {
	var total int64
	for _, e := range m.entries {
		total += e.SizeBytes
	}

	return total
}
