//go:build darwin || (linux && amd64)

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kopia/imageintact/internal/integritycheck"
)

// TestRun_SecondPassIsIdempotent runs a backup twice over the same source
// and destination, and asserts the second run adds, deletes, or modifies
// nothing on disk (§8's idempotence property: a RECONCILE pass over an
// already-verified destination is a no-op).
func TestRun_SecondPassIsIdempotent(t *testing.T) {
	destDir := t.TempDir()
	o := newTestOrchestrator(t, destDir)

	ctx := context.Background()

	status, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	before, err := integritycheck.Walk(ctx, destDir)
	require.NoError(t, err)

	o2 := New(o.Session, o.SourceRoot, o.Destinations, o.Config)

	status, err = o2.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	require.NoError(t, integritycheck.CompareTrees(ctx, destDir, before))
}
