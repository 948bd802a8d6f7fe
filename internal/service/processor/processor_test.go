package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jcastillo/ticketero/internal/logger"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/jcastillo/ticketero/internal/notify"
	"github.com/jcastillo/ticketero/internal/repository"
	"github.com/jcastillo/ticketero/internal/service/queue"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { logger.Init("error") }

type fakeTickets struct {
	repository.TicketsRepository // unused methods panic

	byID       map[int64]*model.Ticket
	assigned   bool
	inProgress []int64
	completed  []int64
}

func (f *fakeTickets) GetByID(_ context.Context, _ *sqlx.Tx, id int64) (*model.Ticket, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) ListActive(context.Context, *sqlx.Tx, model.QueueType) ([]model.Ticket, error) {
	return nil, nil
}

func (f *fakeTickets) AssignCalled(context.Context, *sqlx.Tx, int64, int64, int, time.Time) (bool, error) {
	return f.assigned, nil
}

func (f *fakeTickets) MarkInProgress(_ context.Context, _ *sqlx.Tx, id int64, _ time.Time) error {
	f.inProgress = append(f.inProgress, id)
	return nil
}

func (f *fakeTickets) MarkCompleted(_ context.Context, _ *sqlx.Tx, id int64, _ time.Time) error {
	f.completed = append(f.completed, id)
	return nil
}

type fakeAdvisors struct {
	repository.AdvisorsRepository

	candidate *model.Advisor
	busy      []int64
	released  []releaseCall
}

type releaseCall struct {
	id     int64
	newAvg int
}

func (f *fakeAdvisors) SelectAvailableForUpdate(context.Context, *sqlx.Tx, model.QueueType) (*model.Advisor, error) {
	if f.candidate == nil {
		return nil, nil
	}
	cp := *f.candidate
	return &cp, nil
}

func (f *fakeAdvisors) MarkBusy(_ context.Context, _ *sqlx.Tx, id int64, _ time.Time) error {
	f.busy = append(f.busy, id)
	return nil
}

func (f *fakeAdvisors) Release(_ context.Context, _ *sqlx.Tx, id int64, newAvg int, _ time.Time) error {
	f.released = append(f.released, releaseCall{id, newAvg})
	return nil
}

type fakeEvents struct {
	types []string
}

func (f *fakeEvents) Insert(_ context.Context, _ *sqlx.Tx, e model.TicketEvent) error {
	f.types = append(f.types, e.EventType)
	return nil
}

type fakeConfigs struct{}

func (fakeConfigs) GetByType(context.Context, *sqlx.Tx, model.QueueType) (*model.QueueConfig, error) {
	return &model.QueueConfig{QueueType: model.QueueCaja, AvgServiceTimeMinutes: 2, NotificationThreshold: 3}, nil
}

func (fakeConfigs) ListActive(context.Context) ([]model.QueueConfig, error) { return nil, nil }

func (fakeConfigs) Upsert(context.Context, *sqlx.Tx, model.QueueConfig) error { return nil }

func newTestProcessor(t *testing.T, tickets *fakeTickets, advisors *fakeAdvisors) (*Processor, sqlmock.Sqlmock, *fakeEvents) {
	t.Helper()

	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	db := sqlx.NewDb(rawDB, "mysql")

	events := &fakeEvents{}
	mgr := queue.NewManager(tickets, fakeConfigs{}, events, notify.Nop{})
	assigner := NewAssignmentCoordinator(advisors, tickets)

	// one configured "minute" elapses in a microsecond
	p := New(db, tickets, advisors, events, mgr, assigner, notify.Nop{}, time.Microsecond)
	return p, mock, events
}

func waitingTicket(id int64) *model.Ticket {
	return &model.Ticket{
		ID:        id,
		Numero:    "C042",
		QueueType: model.QueueCaja,
		Status:    model.TicketWaiting,
	}
}

func TestProcessCompletesTicket(t *testing.T) {
	tickets := &fakeTickets{byID: map[int64]*model.Ticket{42: waitingTicket(42)}, assigned: true}
	advisors := &fakeAdvisors{candidate: &model.Advisor{
		ID: 3, Name: "Ana Torres", ModuleNumber: 4,
		Status: model.AdvisorAvailable, AvgServiceTimeMinutes: 10, TotalTicketsServed: 4,
	}}
	p, mock, events := newTestProcessor(t, tickets, advisors)

	mock.ExpectBegin()
	mock.ExpectCommit()

	processed, err := p.Process(context.Background(), 42, model.QueueCaja)
	assert.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, []int64{3}, advisors.busy)
	assert.Equal(t, []int64{42}, tickets.inProgress)
	assert.Equal(t, []int64{42}, tickets.completed)
	assert.Equal(t, []string{model.EventCalled, model.EventStarted, model.EventCompleted}, events.types)
	assert.NoError(t, mock.ExpectationsWereMet())

	// near-instant service pulls the 10-minute average down: round((10*4+~0)/5) = 8
	require.Len(t, advisors.released, 1)
	assert.Equal(t, int64(3), advisors.released[0].id)
	assert.Equal(t, 8, advisors.released[0].newAvg)
}

func TestProcessSkipsAlreadySettledTicket(t *testing.T) {
	settled := waitingTicket(42)
	settled.Status = model.TicketCompleted
	tickets := &fakeTickets{byID: map[int64]*model.Ticket{42: settled}}
	p, mock, events := newTestProcessor(t, tickets, &fakeAdvisors{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	processed, err := p.Process(context.Background(), 42, model.QueueCaja)
	assert.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, events.types)
}

func TestProcessReturnsNoAdvisorSignal(t *testing.T) {
	tickets := &fakeTickets{byID: map[int64]*model.Ticket{42: waitingTicket(42)}}
	p, mock, _ := newTestProcessor(t, tickets, &fakeAdvisors{candidate: nil})

	mock.ExpectBegin()
	mock.ExpectRollback()

	processed, err := p.Process(context.Background(), 42, model.QueueCaja)
	assert.ErrorIs(t, err, ErrNoAdvisorAvailable)
	assert.False(t, processed)
}

func TestProcessRollsBackWhenBindingLost(t *testing.T) {
	tickets := &fakeTickets{byID: map[int64]*model.Ticket{42: waitingTicket(42)}, assigned: false}
	advisors := &fakeAdvisors{candidate: &model.Advisor{ID: 3, ModuleNumber: 4, Status: model.AdvisorAvailable}}
	p, mock, _ := newTestProcessor(t, tickets, advisors)

	mock.ExpectBegin()
	mock.ExpectRollback()

	processed, err := p.Process(context.Background(), 42, model.QueueCaja)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAdvisorAvailable)
	assert.False(t, processed)
}

func TestProcessAbortsOnCancelledContext(t *testing.T) {
	tickets := &fakeTickets{byID: map[int64]*model.Ticket{42: waitingTicket(42)}, assigned: true}
	advisors := &fakeAdvisors{candidate: &model.Advisor{ID: 3, ModuleNumber: 4, Status: model.AdvisorAvailable}}
	p, mock, _ := newTestProcessor(t, tickets, advisors)
	p.ServiceTimeUnit = time.Hour // service wait must be interrupted, not awaited

	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	processed, err := p.Process(ctx, 42, model.QueueCaja)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, processed)
	assert.Empty(t, tickets.completed)
}

func TestRollingAverage(t *testing.T) {
	// round((10*4 + 20) / 5) = 12
	assert.Equal(t, 12, rollingAverage(10, 4, 20))
	// first sample becomes the average
	assert.Equal(t, 7, rollingAverage(0, 0, 7.2))
	// rounding half up
	assert.Equal(t, 11, rollingAverage(10, 1, 11.5))
	assert.Equal(t, 10, rollingAverage(10, 100, 10))
}

func TestAssignReleasesNothingOnSelectError(t *testing.T) {
	boom := errors.New("lock wait timeout")
	advisors := &erroringAdvisors{err: boom}
	a := NewAssignmentCoordinator(advisors, &fakeTickets{})

	_, err := a.Assign(context.Background(), nil, model.QueueCaja, 42, time.Now())
	assert.ErrorIs(t, err, boom)
}

type erroringAdvisors struct {
	repository.AdvisorsRepository
	err error
}

func (e *erroringAdvisors) SelectAvailableForUpdate(context.Context, *sqlx.Tx, model.QueueType) (*model.Advisor, error) {
	return nil, e.err
}
