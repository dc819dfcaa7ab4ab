package eventsink

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// RotateDailyLog compresses path into "<path>.<YYYY-MM-DD>.gz" alongside it
// and truncates path back to empty (§6.1's log rotation). OpenDailyActionLog
// calls it for every dated log other than today's that it finds when it
// opens the day's log. It is a no-op if path does not exist or is already
// empty.
func RotateDailyLog(path string, rolloverDate time.Time) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.Wrapf(err, "stat %s", path)
	}

	if fi.Size() == 0 {
		return nil
	}

	archivePath := path + "." + rolloverDate.Format("2006-01-02") + ".gz"

	if err := compressToGzip(path, archivePath); err != nil {
		return err
	}

	if err := os.Truncate(path, 0); err != nil {
		return errors.Wrapf(err, "truncate %s after rotation", path)
	}

	return nil
}

func compressToGzip(srcPath, archivePath string) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return errors.Wrap(err, "create archive directory")
	}

	src, err := os.Open(srcPath) //nolint:gosec
	if err != nil {
		return errors.Wrapf(err, "open %s", srcPath)
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.Create(archivePath) //nolint:gosec
	if err != nil {
		return errors.Wrapf(err, "create %s", archivePath)
	}
	defer dst.Close() //nolint:errcheck

	gw := pgzip.NewWriter(dst)

	if _, err := io.Copy(gw, src); err != nil {
		gw.Close() //nolint:errcheck
		return errors.Wrap(err, "compress log")
	}

	if err := gw.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}

	return dst.Sync()
}
