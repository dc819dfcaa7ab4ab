package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kopia/imageintact/config"
	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/eventsink"
	"github.com/kopia/imageintact/pipeline"
	"github.com/kopia/imageintact/progress"
	"github.com/kopia/imageintact/session"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()

	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("content-"+name), 0o644))
	}
}

func newTestOrchestrator(t *testing.T, destDirs ...string) *Orchestrator {
	t.Helper()

	srcDir := t.TempDir()
	writeFiles(t, srcDir, "a.jpg", "b.jpg")

	var dests []Destination
	var mounts []string

	for i, d := range destDirs {
		mounts = append(mounts, d)
		dests = append(dests, Destination{
			MountPath: d,
			Medium:    destination.MediumInternal,
			Backend:   destination.NewLocalBackend(d),
		})
		_ = i
	}

	sess := session.New(srcDir, mounts)

	o := New(sess, srcDir, dests, config.Default())

	return o
}

func TestRun_CopiesToSingleDestination(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	var mu sync.Mutex
	var phases []Phase

	o.OnPhase = func(p Phase) {
		mu.Lock()
		phases = append(phases, p)
		mu.Unlock()
	}

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Phase{
		PhaseAnalyzingSource,
		PhaseBuildingManifest,
		PhaseCopyingFiles,
		PhaseFlushingToDisk,
		PhaseVerifyingDestinations,
		PhaseComplete,
	}, phases)

	require.FileExists(t, filepath.Join(destDir, "a.jpg"))
	require.FileExists(t, filepath.Join(destDir, "b.jpg"))
}

func TestRun_FansOutAcrossMultipleDestinations(t *testing.T) {
	destA, destB := t.TempDir(), t.TempDir()
	o := newTestOrchestrator(t, destA, destB)

	var mu sync.Mutex
	results := map[string]int{}

	o.OnResult = func(mount string, r pipeline.Result) {
		mu.Lock()
		results[mount]++
		mu.Unlock()
	}

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 4, results[destA]) // 2 copied + 2 verified
	require.Equal(t, 4, results[destB])

	require.FileExists(t, filepath.Join(destA, "a.jpg"))
	require.FileExists(t, filepath.Join(destB, "a.jpg"))
}

func TestRun_ReportsProgress(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	var mu sync.Mutex
	var last progress.Aggregate
	var notified bool

	o.OnProgress = func(a progress.Aggregate) {
		mu.Lock()
		last = a
		notified = true
		mu.Unlock()
	}

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, notified)
	require.Equal(t, int64(2), last.CopiedFiles)
	require.Equal(t, int64(2), last.VerifiedFiles)
}

func TestRun_MissingSourceIsPrecondition(t *testing.T) {
	destDir := t.TempDir()

	sess := session.New("/no/such/source", []string{destDir})
	o := New(sess, "", []Destination{{
		MountPath: destDir,
		Medium:    destination.MediumInternal,
		Backend:   destination.NewLocalBackend(destDir),
	}}, config.Default())

	status, err := o.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPrecondition)
	require.Equal(t, StatusCompletedWithErrors, status)
}

func TestRun_NoDestinationsIsPrecondition(t *testing.T) {
	srcDir := t.TempDir()
	sess := session.New(srcDir, nil)
	o := New(sess, srcDir, nil, config.Default())

	status, err := o.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPrecondition)
	require.Equal(t, StatusCompletedWithErrors, status)
}

func TestRun_DestinationEqualToSourceIsPrecondition(t *testing.T) {
	srcDir := t.TempDir()
	sess := session.New(srcDir, []string{srcDir})
	o := New(sess, srcDir, []Destination{{
		MountPath: srcDir,
		Medium:    destination.MediumInternal,
		Backend:   destination.NewLocalBackend(srcDir),
	}}, config.Default())

	_, err := o.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestRun_CancelledBeforeStartIsCancelled(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := o.Run(ctx)
	require.Error(t, err)
	require.Equal(t, StatusCancelled, status)
}

func TestCancel_StopsARunningSession(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	o.OnPhase = func(p Phase) {
		if p == PhaseCopyingFiles {
			o.Cancel()
		}
	}

	status, err := o.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StatusCancelled, status)
}

func TestCancel_BeforeRunIsNoop(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)
	o.Cancel() // must not panic when called before Run

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)
}

func TestWriteManifestSnapshots_OnePerDestination(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	records := map[string][]eventsink.ManifestRecord{
		destDir: {
			{FilePath: "a.jpg", Checksum: "abc", FileSize: 3, Action: pipeline.OutcomeCopied, Timestamp: time.Now()},
		},
	}

	checksumsDir := filepath.Join(destDir, "checksums")
	require.NoError(t, os.MkdirAll(checksumsDir, 0o755))

	err = WriteManifestSnapshots(o.Destinations, records, func(mountPath string) string {
		return filepath.Join(checksumsDir, "manifest.csv")
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(checksumsDir, "manifest.csv"))
}

func TestRun_SlowRunStillCompletesWithinTimeout(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	done := make(chan struct{})

	go func() {
		defer close(done)
		status, err := o.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, status)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
}
