// Package digest computes canonical content digests for backup source
// files (§4.1). It is pure and cancellable: it performs no scheduling and
// no destination I/O of its own.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/kopia/imageintact/internal/buf"
	"github.com/kopia/imageintact/internal/logging"
)

var log = logging.Module("imageintact/digest")

// EmptyFileDigest is the sentinel digest for zero-length files.
const EmptyFileDigest = "empty-file-0-bytes"

// Size tiers and buffer sizes, per §4.1.
const (
	wholeReadThreshold = 10 << 20  // 10 MiB
	mediumFileCeiling  = 100 << 20 // 100 MiB
	largeFileCeiling   = 500 << 20 // 500 MiB

	smallChunk  = 256 << 10 // 256 KiB
	mediumChunk = 1 << 20   // 1 MiB
	largeChunk  = 4 << 20   // 4 MiB
)

// Sentinel errors, per §4.1's failure taxonomy. Wrap these with
// errors.Wrap(baseErr, detail) so callers can still errors.Is() against
// them while preserving a human-readable cause.
var (
	ErrFileMissing       = errors.New("file missing")
	ErrNotReadable       = errors.New("not readable")
	ErrOfflinePlaceholder = errors.New("offline placeholder")
	ErrCancelled         = errors.New("cancelled")
)

// bufferPools holds one arena pool per chunk size, each preallocated with
// retainedSegmentsPerSize segments. A pool grows by one segment whenever no
// free segment is available and keeps every segment it has grown, so the
// number retained per size is not capped and excess segments are not freed.
type bufferPools struct {
	small  *buf.Pool
	medium *buf.Pool
	large  *buf.Pool
}

const retainedSegmentsPerSize = 2

//nolint:gochecknoglobals
var pools = newBufferPools()

func newBufferPools() *bufferPools {
	ctx := context.Background()

	p := &bufferPools{
		small:  buf.NewPool(ctx, smallChunk, "digest-small"),
		medium: buf.NewPool(ctx, mediumChunk, "digest-medium"),
		large:  buf.NewPool(ctx, largeChunk, "digest-large"),
	}

	p.small.AddSegments(retainedSegmentsPerSize)
	p.medium.AddSegments(retainedSegmentsPerSize)
	p.large.AddSegments(retainedSegmentsPerSize)

	return p
}

func chunkSizeFor(size int64) (int, *buf.Pool) {
	switch {
	case size <= mediumFileCeiling:
		return smallChunk, pools.small
	case size <= largeFileCeiling:
		return mediumChunk, pools.medium
	default:
		return largeChunk, pools.large
	}
}

// Hash computes the canonical digest of path: the empty-file sentinel for a
// zero-byte file, a single mapped/contiguous read for files under 10 MiB,
// and a streamed, size-tiered buffered read above that. Cancellation is
// checked once per chunk; on cancellation Hash returns ErrCancelled without
// finalising the hasher.
func Hash(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrFileMissing, "%s", path)
		}

		if os.IsPermission(err) {
			return "", errors.Wrapf(ErrNotReadable, "%s", path)
		}

		return "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	fi, err := f.Stat()
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", path)
	}

	if isOfflinePlaceholder(fi) {
		return "", errors.Wrapf(ErrOfflinePlaceholder, "%s", path)
	}

	size := fi.Size()
	if size == 0 {
		return EmptyFileDigest, nil
	}

	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(ErrCancelled, path)
	}

	h := sha256.New()

	if size < wholeReadThreshold {
		if err := hashWholeFile(ctx, f, size, h); err != nil {
			return "", err
		}
	} else if err := hashStreamed(ctx, f, size, h); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashWholeFile memory-maps the file and feeds the mapping directly to the
// hasher: one contiguous read, no intermediate chunk buffer.
func hashWholeFile(ctx context.Context, f *os.File, size int64, h hash.Hash) error {
	m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		// Fall back to a plain read for filesystems that refuse mmap
		// (some network/FUSE mounts): still a single contiguous read.
		return hashViaReadAll(ctx, f, size, h)
	}
	defer m.Unmap() //nolint:errcheck

	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrCancelled, "")
	}

	if _, err := h.Write(m); err != nil {
		return errors.Wrap(err, "hash mapped region")
	}

	return nil
}

func hashViaReadAll(ctx context.Context, f *os.File, size int64, h hash.Hash) error {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return errors.Wrap(err, "read file")
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrCancelled, "")
	}

	if _, err := h.Write(data); err != nil {
		return errors.Wrap(err, "hash buffer")
	}

	return nil
}

// HashReader computes the canonical digest of an arbitrary stream of a
// known size, reusing the same size-tiered buffer strategy as Hash. It is
// used to verify content on destination backends that are not addressable
// by local path (WebDAV, SFTP): the pipeline opens a ReadCloser from the
// Backend and hashes it here instead of through Hash, passing the Stat size
// when reconciling and the manifest entry's size when verifying. size must
// be the stream's exact length; 0 returns the empty-file
// sentinel without reading r.
func HashReader(ctx context.Context, r io.Reader, size int64) (string, error) {
	if size == 0 {
		return EmptyFileDigest, nil
	}

	h := sha256.New()
	if err := hashStreamedReader(ctx, r, size, h); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashStreamed reads the file through fixed-size pooled buffers, checking
// cancellation once per chunk.
func hashStreamed(ctx context.Context, f *os.File, size int64, h hash.Hash) error {
	return hashStreamedReader(ctx, f, size, h)
}

// hashStreamedReader is hashStreamed generalized to any io.Reader, so
// HashReader can reuse the exact same chunking/pooling/cancellation
// behavior for non-local destination backends.
func hashStreamedReader(ctx context.Context, r io.Reader, size int64, h hash.Hash) error {
	chunkSize, pool := chunkSizeFor(size)

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(ErrCancelled, "")
		}

		b := pool.Allocate(chunkSize)

		n, err := r.Read(b.Data)
		if n > 0 {
			if _, werr := h.Write(b.Data[:n]); werr != nil {
				b.Release()
				return errors.Wrap(werr, "hash chunk")
			}
		}

		b.Release()

		if err == io.EOF { //nolint:errorlint
			return nil
		}

		if err != nil {
			return errors.Wrap(err, "read chunk")
		}
	}
}
