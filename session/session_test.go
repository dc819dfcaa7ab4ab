package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_AssignsIdentity(t *testing.T) {
	s := New("/Volumes/SD_CARD", []string{"/Volumes/Backup1", "/Volumes/Backup2"})

	require.NotEmpty(t, s.ID)
	require.NotEmpty(t, s.Nickname)
	require.Equal(t, StatusPending, s.Status)
}

func TestStartFinish_RecordsElapsed(t *testing.T) {
	s := New("/src", nil)

	s.Start()
	require.Equal(t, StatusRunning, s.Status)

	time.Sleep(5 * time.Millisecond)

	s.Finish(StatusComplete)
	require.Equal(t, StatusComplete, s.Status)
	require.Greater(t, s.Elapsed(), time.Duration(0))
}

func TestFinish_IsIdempotent(t *testing.T) {
	s := New("/src", nil)
	s.Start()

	s.Finish(StatusFailed)
	finishedAt := s.FinishedAt

	s.Finish(StatusComplete)
	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, finishedAt, s.FinishedAt)
}
