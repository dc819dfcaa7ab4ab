package pipeline

import (
	"path"
	"strings"
	"time"
)

// QuarantineDir is the per-destination hidden directory holding displaced
// files (§4.4, §6.1). It is created on demand and never pruned by the
// engine.
const QuarantineDir = ".imageintact_quarantine"

// quarantinePath builds "<.imageintact_quarantine>/<basename>_<ts>.<ext>"
// for a displaced file at relPath, per §4.4/§6.1.
func quarantinePath(relPath string, at time.Time) string {
	base := path.Base(relPath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	ts := at.Format("20060102_150405")

	name := stem + "_" + ts + ext

	return path.Join(QuarantineDir, name)
}
