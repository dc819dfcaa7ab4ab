package eventsink

import (
	"compress/gzip"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kopia/imageintact/manifest"
	"github.com/kopia/imageintact/pipeline"
)

func TestActionLog_AppendAndHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.csv")

	al, err := OpenActionLog(path)
	require.NoError(t, err)

	al.Now = func() time.Time { return time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, al.Append("session-1", "/dest/a", pipeline.Result{
		Entry:   manifest.Entry{RelativePath: "a.jpg", SourceAbsolutePath: "/src/a.jpg", SizeBytes: 3},
		Outcome: pipeline.OutcomeCopied,
		Digest:  "abc",
	}))
	require.NoError(t, al.Close())

	rows := readCSV(t, path)
	require.Equal(t, actionLogHeader, rows[0])
	require.Equal(t, []string{"2026-07-31T09:00:00Z", "session-1", "COPIED", "/src/a.jpg", "/dest/a", "abc", "SHA256", "3", ""}, rows[1])
}

func TestActionLog_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.csv")

	al, err := OpenActionLog(path)
	require.NoError(t, err)
	require.NoError(t, al.Append("session-1", "/dest/a", pipeline.Result{Entry: manifest.Entry{RelativePath: "a.jpg"}, Outcome: pipeline.OutcomeCopied}))
	require.NoError(t, al.Close())

	al2, err := OpenActionLog(path)
	require.NoError(t, err)
	require.NoError(t, al2.Append("session-1", "/dest/a", pipeline.Result{Entry: manifest.Entry{RelativePath: "b.jpg"}, Outcome: pipeline.OutcomeVerified}))
	require.NoError(t, al2.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3) // header + 2 rows, no duplicate header
}

func TestOpenDailyActionLog_RotatesPreviousDay(t *testing.T) {
	dir := t.TempDir()

	yesterday := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	al, err := OpenDailyActionLog(dir, yesterday)
	require.NoError(t, err)
	require.NoError(t, al.Append("session-1", "/dest/a", pipeline.Result{Entry: manifest.Entry{RelativePath: "a.jpg"}, Outcome: pipeline.OutcomeCopied}))
	require.NoError(t, al.Close())

	al2, err := OpenDailyActionLog(dir, today)
	require.NoError(t, err)
	require.NoError(t, al2.Close())

	require.FileExists(t, filepath.Join(dir, ActionLogFileName(today)))
	require.FileExists(t, filepath.Join(dir, ActionLogFileName(yesterday)+".2026-07-30.gz"))

	fi, err := os.Stat(filepath.Join(dir, ActionLogFileName(yesterday)))
	require.NoError(t, err)
	require.Zero(t, fi.Size())
}

func TestWriteManifestSnapshot(t *testing.T) {
	records := []ManifestRecord{
		{FilePath: "a.jpg", Checksum: "abc", FileSize: 3, Action: pipeline.OutcomeCopied, Timestamp: time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)},
		{FilePath: "b.jpg", Checksum: "def", FileSize: 4, Action: pipeline.OutcomeVerified, Timestamp: time.Date(2026, 7, 31, 9, 0, 1, 0, time.UTC)},
	}

	path := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, WriteManifestSnapshot(path, records))

	rows := readCSV(t, path)
	require.Equal(t, manifestHeader, rows[0])
	require.Equal(t, []string{"a.jpg", "abc", "SHA256", "3", "COPIED", "2026-07-31T09:00:00Z"}, rows[1])
	require.Len(t, rows, 3)
}

func TestRotateDailyLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actions.csv")

	require.NoError(t, os.WriteFile(path, []byte("timestamp,destination\nx,y\n"), 0o644))

	rolloverDate := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	require.NoError(t, RotateDailyLog(path, rolloverDate))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, fi.Size())

	archivePath := path + ".2026-07-30.gz"
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	buf := make([]byte, 64)
	n, _ := gr.Read(buf)
	require.Contains(t, string(buf[:n]), "timestamp,destination")
}

func TestRotateDailyLog_NoopWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.NoError(t, RotateDailyLog(path, time.Now()))

	_, err := os.Stat(path + "." + time.Now().Format("2006-01-02") + ".gz")
	require.True(t, os.IsNotExist(err))
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	return rows
}
