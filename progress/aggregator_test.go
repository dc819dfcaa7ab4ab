package progress

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kopia/imageintact/destination"
)

func TestAggregator_Snapshot(t *testing.T) {
	s1 := destination.New("/dest/a", destination.MediumInternal, 10)
	s1.Begin()
	s1.RecordCopied(100)
	s1.RecordVerified()

	s2 := destination.New("/dest/b", destination.MediumNetwork, 5)
	s2.Begin()
	s2.RecordSkipped()

	agg := NewAggregator([]*destination.State{s1, s2}, 1000, nil, nil)

	snap := agg.Snapshot()
	require.Equal(t, int64(15), snap.TotalFiles)
	require.Equal(t, int64(1), snap.CopiedFiles)
	require.Equal(t, int64(1), snap.VerifiedFiles)
	require.Equal(t, int64(1), snap.SkippedFiles)
	require.Equal(t, int64(100), snap.BytesWritten)
}

func TestAggregator_ETAUnknownUntilTwoSamples(t *testing.T) {
	s1 := destination.New("/dest/a", destination.MediumInternal, 10)
	s1.Begin()

	agg := NewAggregator([]*destination.State{s1}, 1000, nil, nil)

	snap := agg.Snapshot()
	require.Equal(t, float64(-1), snap.EstimatedSecondsRemaining)
}

func TestAggregator_MetricsObserve(t *testing.T) {
	s1 := destination.New("/dest/a", destination.MediumInternal, 10)
	s1.Begin()
	s1.RecordCopied(512)
	s1.RecordVerified()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	var captured Aggregate
	obs := ObserverFunc(func(a Aggregate) { captured = a })

	agg := NewAggregator([]*destination.State{s1}, 1024, obs, m)
	agg.MaybeNotify()

	require.Equal(t, int64(512), captured.BytesWritten)

	mf, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mf)
}

func TestAggregator_MaybeNotifyRateLimited(t *testing.T) {
	s1 := destination.New("/dest/a", destination.MediumInternal, 1)

	calls := 0
	obs := ObserverFunc(func(Aggregate) { calls++ })

	agg := NewAggregator([]*destination.State{s1}, 0, obs, nil)

	agg.MaybeNotify()
	agg.MaybeNotify()
	require.Equal(t, 1, calls)

	time.Sleep(NotifyInterval + 10*time.Millisecond)
	agg.MaybeNotify()
	require.Equal(t, 2, calls)
}
