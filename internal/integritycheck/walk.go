//go:build darwin || (linux && amd64)

package integritycheck

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/fswalker"
	fspb "github.com/google/fswalker/proto/fswalker"
	"github.com/pkg/errors"
)

// maxFileSizeToHash bounds the size of file fswalker will hash per entry.
const maxFileSizeToHash = 1 << 32

// walk hashes every file under root and returns the resulting tree
// snapshot, with paths made relative to root.
func walk(ctx context.Context, root string) (*fspb.Walk, error) {
	policy := &fspb.Policy{
		Version:         1,
		Include:         []string{root},
		HashPfx:         []string{""},
		MaxHashFileSize: maxFileSizeToHash,
		WalkCrossDevice: true,
	}

	policyFile, err := os.CreateTemp("", "imageintact-fswalker-policy-")
	if err != nil {
		return nil, err
	}

	policyFile.Close() //nolint:errcheck
	defer os.Remove(policyFile.Name()) //nolint:errcheck

	if err := writeTextProto(policyFile.Name(), policy); err != nil {
		return nil, err
	}

	w, err := fswalker.WalkerFromPolicyFile(ctx, policyFile.Name())
	if err != nil {
		return nil, err
	}

	var result *fspb.Walk

	w.WalkCallback = func(_ context.Context, walk *fspb.Walk) error {
		result = walk
		return nil
	}

	if err := w.Run(ctx); err != nil {
		return nil, errors.Wrap(err, "fswalker run")
	}

	for _, f := range result.File {
		if rel, err := filepath.Rel(root, f.Path); err == nil {
			f.Path = rel
		}
	}

	return result, nil
}

func report(ctx context.Context, before, after *fspb.Walk) (*fswalker.Report, error) {
	cfgFile, err := os.CreateTemp("", "imageintact-fswalker-report-config-")
	if err != nil {
		return nil, err
	}

	cfgFile.Close() //nolint:errcheck
	defer os.Remove(cfgFile.Name()) //nolint:errcheck

	if err := writeTextProto(cfgFile.Name(), &fspb.ReportConfig{}); err != nil {
		return nil, err
	}

	rptr, err := fswalker.ReporterFromConfigFile(ctx, cfgFile.Name(), false)
	if err != nil {
		return nil, err
	}

	return rptr.Compare(before, after)
}

// CompareTrees walks root after a second backup has run over it, compares
// that walk with beforeWalk (taken before the second run), and reports
// whether the second pass changed anything: an idempotent backup
// run should add, delete, or modify nothing (§8's idempotence property).
func CompareTrees(ctx context.Context, root string, beforeWalk *fspb.Walk) error {
	afterWalk, err := walk(ctx, root)
	if err != nil {
		return errors.Wrap(err, "walk after second run")
	}

	rpt, err := report(ctx, beforeWalk, afterWalk)
	if err != nil {
		return errors.Wrap(err, "generate fswalker report")
	}

	if len(rpt.Added) > 0 {
		return errors.Errorf("second backup run added %d files", len(rpt.Added))
	}

	if len(rpt.Deleted) > 0 {
		return errors.Errorf("second backup run deleted %d files", len(rpt.Deleted))
	}

	if len(rpt.Modified) > 0 {
		return errors.Errorf("second backup run modified %d files", len(rpt.Modified))
	}

	return nil
}

// Walk is exported so callers can capture the "before" snapshot ahead of the
// first backup run.
func Walk(ctx context.Context, root string) (*fspb.Walk, error) {
	return walk(ctx, root)
}
