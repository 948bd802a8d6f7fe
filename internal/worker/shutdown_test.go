package worker

import (
	"context"
	"testing"
	"time"

	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

type fakeAdvisorsRepo struct {
	repository.AdvisorsRepository // unused methods panic

	busyCounts []int // consumed per CountByStatus call, last value sticks
	busyList   []model.Advisor
	released   []int64
}

func (f *fakeAdvisorsRepo) CountByStatus(context.Context, model.AdvisorStatus) (int, error) {
	n := f.busyCounts[0]
	if len(f.busyCounts) > 1 {
		f.busyCounts = f.busyCounts[1:]
	}
	return n, nil
}

func (f *fakeAdvisorsRepo) ListByStatus(context.Context, model.AdvisorStatus) ([]model.Advisor, error) {
	return f.busyList, nil
}

func (f *fakeAdvisorsRepo) ForceAvailable(_ context.Context, _ *sqlx.Tx, id int64) error {
	f.released = append(f.released, id)
	return nil
}

func TestDrainReturnsOnceIdle(t *testing.T) {
	repo := &fakeAdvisorsRepo{busyCounts: []int{2, 1, 0}}
	s := NewShutdownCoordinator(repo)
	s.DrainTimeout = time.Second
	s.PollInterval = time.Millisecond

	err := s.Drain(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, repo.released)
}

func TestDrainForceReleasesAtDeadline(t *testing.T) {
	repo := &fakeAdvisorsRepo{
		busyCounts: []int{2},
		busyList: []model.Advisor{
			{ID: 3, Name: "Ana Torres"},
			{ID: 5, Name: "Luis Herrera"},
		},
	}
	s := NewShutdownCoordinator(repo)
	s.DrainTimeout = 5 * time.Millisecond
	s.PollInterval = time.Millisecond

	err := s.Drain(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, repo.released)
}

func TestDrainHonorsContextCancel(t *testing.T) {
	repo := &fakeAdvisorsRepo{busyCounts: []int{1}}
	s := NewShutdownCoordinator(repo)
	s.DrainTimeout = time.Minute
	s.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
