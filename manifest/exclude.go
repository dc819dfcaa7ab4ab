package manifest

import (
	"path/filepath"
	"strings"
)

// cacheFileNames are exact-name matches excluded regardless of directory
// (§4.2: "known cache artifacts — exact-name list including OS metadata").
//
//nolint:gochecknoglobals
var cacheFileNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
	"desktop.ini": true,
}

// cacheDirNames are path segments that, if present anywhere in a file's
// path, exclude the file (VCS/build directories and editor caches).
//
//nolint:gochecknoglobals
var cacheDirNames = map[string]bool{
	"node_modules":      true,
	".git":              true,
	"DerivedData":       true,
	"Media Cache Files":  true,
	".imageintact_quarantine": true,
	".imageintact_logs":       true,
	".imageintact_checksums":  true,
}

// cacheDirSuffixes are path segment suffixes that exclude a file, e.g.
// Lightroom's *.lrdata catalog support directories.
//
//nolint:gochecknoglobals
var cacheDirSuffixes = []string{".lrdata", ".lrcat-data"}

// excludedExtensions are extensions that mark a file as a transient
// artifact of an in-progress write.
//
//nolint:gochecknoglobals
var excludedExtensions = map[string]bool{
	"tmp": true, "temp": true, "cache": true, "lock": true,
}

// ExclusionPolicy decides whether a path should be skipped before it is
// ever digested. It implements §4.2's exclusion rules.
type ExclusionPolicy struct {
	ExcludeCacheFiles bool
	SkipHiddenFiles   bool
	classifier        Classifier
}

// NewExclusionPolicy builds the default exclusion policy.
func NewExclusionPolicy(excludeCacheFiles, skipHiddenFiles bool, classifier Classifier) ExclusionPolicy {
	return ExclusionPolicy{
		ExcludeCacheFiles: excludeCacheFiles,
		SkipHiddenFiles:   skipHiddenFiles,
		classifier:        classifier,
	}
}

// Excluded reports whether relPath (forward-slash, relative to the source
// root) should be excluded from the manifest before digesting.
func (p ExclusionPolicy) Excluded(relPath string) bool {
	base := filepath.Base(relPath)

	if p.ExcludeCacheFiles {
		if cacheFileNames[base] {
			return true
		}

		for _, seg := range strings.Split(relPath, "/") {
			if cacheDirNames[seg] {
				return true
			}

			for _, suf := range cacheDirSuffixes {
				if strings.HasSuffix(seg, suf) {
					return true
				}
			}
		}

		if ext := extensionOf(base); excludedExtensions[ext] {
			return true
		}
	}

	if p.SkipHiddenFiles && strings.HasPrefix(base, ".") {
		// A hidden file is still admitted if its extension identifies a
		// supported image type (§4.2).
		if p.classifier == nil || p.classifier.ClassifyFile(base) != CategoryImage {
			return true
		}
	}

	return false
}

// TypeFilter is the configured set of allowed lowercase extensions; an
// empty filter allows every extension the classifier supports (§4.2).
type TypeFilter struct {
	allowed map[string]bool
}

// NewTypeFilter builds a TypeFilter from a set of lowercase extensions
// (without the leading dot). An empty slice means "allow all supported".
func NewTypeFilter(extensions []string) TypeFilter {
	if len(extensions) == 0 {
		return TypeFilter{}
	}

	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(e)] = true
	}

	return TypeFilter{allowed: allowed}
}

// Admits reports whether path passes both the classifier's supported-type
// check and this filter's allow-list.
func (f TypeFilter) Admits(path string, classifier Classifier) bool {
	if !classifier.IsSupported(path) {
		return false
	}

	if f.allowed == nil {
		return true
	}

	return f.allowed[extensionOf(path)]
}
