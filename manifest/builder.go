package manifest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/petar/GoLLRB/llrb"
	"github.com/pkg/errors"

	"github.com/kopia/imageintact/digest"
	"github.com/kopia/imageintact/internal/logging"
	"github.com/kopia/imageintact/internal/parallelwork"
)

var log = logging.Module("imageintact/manifest")

// ErrCancelled is returned when the build is aborted by the caller's
// cancellation signal.
var ErrCancelled = errors.New("cancelled")

// StatusFunc receives human-readable progress messages during the build
// ("Scanning file N…", then "Calculating checksums for N files…").
type StatusFunc func(message string)

// ErrorFunc receives one call per unreadable file encountered, with the
// file's relative path and the failure reason; the build continues.
type ErrorFunc func(relPath, reason string)

// BuildOptions configures one manifest build.
type BuildOptions struct {
	SourceRoot string
	Exclusion  ExclusionPolicy
	Filter     TypeFilter
	Classifier Classifier

	// Concurrency bounds the digesting fan-out. Zero means
	// min(8, file_count), the conservative default for spinning disks and
	// network sources (§4.2).
	Concurrency int

	OnStatus StatusFunc
	OnError  ErrorFunc
}

type candidate struct {
	relPath  string
	absPath  string
	size     int64
}

// entryItem adapts Entry to llrb.Item, ordering the manifest's backing tree
// by RelativePath so the "manifest is a set under relative_path" invariant
// (§3) is enforced by the container itself: ReplaceOrInsert on an existing
// key replaces rather than duplicating.
type entryItem Entry

func (e entryItem) Less(than llrb.Item) bool {
	return e.RelativePath < than.(entryItem).RelativePath //nolint:forcetypeassert
}

// Build walks opts.SourceRoot, applies exclusion and type-filter rules,
// and returns a Manifest whose entries carry streaming SHA-256 digests.
// Two consecutive builds over an unchanged tree produce identical
// manifests (§4.2 determinism).
func Build(ctx context.Context, opts BuildOptions) (*Manifest, error) {
	candidates, err := scan(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.OnStatus != nil {
		opts.OnStatus(fmtCalculating(len(candidates)))
	}

	tree := llrb.New()

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = len(candidates)
		if concurrency > 8 {
			concurrency = 8
		}
	}

	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		q    = parallelwork.NewQueue()
	)

	for _, c := range candidates {
		c := c

		q.EnqueueBack(ctx, func() error {
			if err := ctx.Err(); err != nil {
				return ErrCancelled
			}

			d, err := digest.Hash(ctx, c.absPath)
			if err != nil {
				if errors.Is(err, digest.ErrCancelled) {
					return ErrCancelled
				}

				if opts.OnError != nil {
					opts.OnError(c.relPath, err.Error())
				}

				return nil
			}

			mu.Lock()
			tree.ReplaceOrInsert(entryItem{
				RelativePath:       c.relPath,
				SourceAbsolutePath: c.absPath,
				SizeBytes:          c.size,
				Digest:             d,
			})
			mu.Unlock()

			return nil
		})
	}

	if err := q.Process(ctx, concurrency); err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil, ErrCancelled
		}

		return nil, err
	}

	m := &Manifest{entries: make([]Entry, 0, tree.Len())}
	tree.AscendGreaterOrEqual(tree.Min(), func(item llrb.Item) bool {
		m.entries = append(m.entries, Entry(item.(entryItem))) //nolint:forcetypeassert
		return true
	})

	return m, nil
}

func fmtCalculating(n int) string {
	return "Calculating checksums for " + itoa(n) + " files…"
}

func fmtScanning(n int) string {
	return "Scanning file " + itoa(n) + "…"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf [20]byte

	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	if neg {
		i--
		buf[i] = '-'
	}

	return string(buf[i:])
}

// scan performs the full depth-first enumeration pass, producing
// (relative_path, absolute_path, size) candidates before any digesting
// begins (§4.2's phase split).
func scan(ctx context.Context, opts BuildOptions) ([]candidate, error) {
	var out []candidate

	count := 0

	root := filepath.Clean(opts.SourceRoot)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ErrCancelled
		}

		if err != nil {
			rel, _ := filepath.Rel(root, path)
			if opts.OnError != nil {
				opts.OnError(toRelSlash(rel), err.Error())
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			info, statErr := os.Stat(path)
			if statErr == nil && info.IsDir() {
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr
		}

		relSlash := toRelSlash(rel)

		if opts.Exclusion.Excluded(relSlash) {
			return nil
		}

		if !opts.Filter.Admits(path, opts.Classifier) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if opts.OnError != nil {
				opts.OnError(relSlash, err.Error())
			}

			return nil
		}

		count++
		if opts.OnStatus != nil {
			opts.OnStatus(fmtScanning(count))
		}

		out = append(out, candidate{relPath: relSlash, absPath: path, size: info.Size()})

		return nil
	})

	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil, ErrCancelled
		}

		return nil, errors.Wrap(err, "scan source tree")
	}

	return out, nil
}

func toRelSlash(rel string) string {
	return filepath.ToSlash(rel)
}
