package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orbit/api/internal/metrics"
	"orbit/api/internal/store"
	"orbit/api/internal/store/memstore"
)

type fakePurger struct {
	purgeFn func(ctx context.Context, before time.Time) (int64, error)
}

func (f fakePurger) PurgeJoinCodes(ctx context.Context, before time.Time) (int64, error) {
	return f.purgeFn(ctx, before)
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("every tuesday-ish", fakePurger{}, time.Hour, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestPurgeUsesCutoff(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	var got time.Time
	s, err := New("@daily", fakePurger{purgeFn: func(_ context.Context, before time.Time) (int64, error) {
		got = before
		return 2, nil
	}}, 48*time.Hour, zap.NewNop(), metrics.New())
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	purged, err := s.PurgeJoinCodes(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged)
	assert.Equal(t, now.Add(-48*time.Hour), got)
}

func TestPurgePropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	s, err := New("@hourly", fakePurger{purgeFn: func(context.Context, time.Time) (int64, error) {
		return 0, boom
	}}, time.Hour, nil, nil)
	require.NoError(t, err)

	_, err = s.PurgeJoinCodes(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPurgeAgainstMemstore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	repo := memstore.New(memstore.WithClock(func() time.Time { return now }))
	lead, err := repo.EnsureUser(ctx, "lead@example.com", "Lead")
	require.NoError(t, err)
	project, err := repo.InsertProject(ctx, store.Project{Name: "Team", Type: store.ProjectTeam, CreatorID: lead.ID})
	require.NoError(t, err)

	old := now.Add(-40 * 24 * time.Hour)
	_, err = repo.InsertJoinCode(ctx, store.JoinCode{Code: "AB-CDEF", ProjectID: project.ID, CreatorID: lead.ID, CreatedAt: old.Add(-time.Hour), ExpiresAt: old})
	require.NoError(t, err)
	_, err = repo.InsertJoinCode(ctx, store.JoinCode{Code: "GH-JKLM", ProjectID: project.ID, CreatorID: lead.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	s, err := New("@daily", repo, 30*24*time.Hour, zap.NewNop(), nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	purged, err := s.PurgeJoinCodes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = repo.ActiveJoinCodeForProject(ctx, project.ID, now)
	require.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New("@every 1h", fakePurger{}, time.Hour, nil, nil)
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestScheduleAddsJob(t *testing.T) {
	s, err := New("@daily", fakePurger{}, time.Hour, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.Entries())

	require.NoError(t, s.Schedule("@every 10m", "sweep sessions", func(context.Context) error { return nil }))
	assert.Equal(t, 2, s.Entries())

	err = s.Schedule("whenever", "broken", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 2, s.Entries())
}
