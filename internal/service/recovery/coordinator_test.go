package recovery

import (
	"context"
	"database/sql"
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

type fakeAdvisors struct {
	repository.AdvisorsRepository // unused methods panic

	dead      []model.Advisor
	byID      map[int64]*model.Advisor
	recovered []int64
}

func (f *fakeAdvisors) ListDeadForUpdate(context.Context, *sqlx.Tx, time.Time) ([]model.Advisor, error) {
	return f.dead, nil
}

func (f *fakeAdvisors) GetByID(_ context.Context, _ *sqlx.Tx, id int64) (*model.Advisor, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrAdvisorNotFound
	}
	return a, nil
}

func (f *fakeAdvisors) Recover(_ context.Context, _ *sqlx.Tx, id int64) error {
	f.recovered = append(f.recovered, id)
	return nil
}

type fakeTickets struct {
	repository.TicketsRepository

	currentByAdvisor map[int64]*model.Ticket
	waiting          int
	reverted         []int64
}

func (f *fakeTickets) GetCurrentForAdvisor(_ context.Context, _ *sqlx.Tx, advisorID int64) (*model.Ticket, error) {
	return f.currentByAdvisor[advisorID], nil
}

func (f *fakeTickets) CountWaiting(context.Context, *sqlx.Tx, model.QueueType) (int, error) {
	return f.waiting, nil
}

func (f *fakeTickets) RevertToWaiting(_ context.Context, _ *sqlx.Tx, id int64, _, _ int) error {
	f.reverted = append(f.reverted, id)
	return nil
}

type fakeEvents struct {
	types []string
}

func (f *fakeEvents) Insert(_ context.Context, _ *sqlx.Tx, e model.TicketEvent) error {
	f.types = append(f.types, e.EventType)
	return nil
}

type fakeRecoveryEvents struct {
	recorded []model.RecoveryEvent
}

func (f *fakeRecoveryEvents) Insert(_ context.Context, _ *sqlx.Tx, e model.RecoveryEvent) error {
	f.recorded = append(f.recorded, e)
	return nil
}

func (f *fakeRecoveryEvents) CountSince(context.Context, time.Time) (int, error) {
	return len(f.recorded), nil
}

type fakeOutbox struct {
	repository.OutboxRepository

	inserted []*model.OutboxMessage
}

func (f *fakeOutbox) Insert(_ context.Context, _ *sqlx.Tx, m *model.OutboxMessage) error {
	f.inserted = append(f.inserted, m)
	return nil
}

type fakeConfigs struct{}

func (fakeConfigs) GetByType(context.Context, *sqlx.Tx, model.QueueType) (*model.QueueConfig, error) {
	return &model.QueueConfig{QueueType: model.QueueCaja, AvgServiceTimeMinutes: 5, NotificationThreshold: 3}, nil
}

func (fakeConfigs) ListActive(context.Context) ([]model.QueueConfig, error) { return nil, nil }

func (fakeConfigs) Upsert(context.Context, *sqlx.Tx, model.QueueConfig) error { return nil }

type fixture struct {
	coord    *Coordinator
	mock     sqlmock.Sqlmock
	advisors *fakeAdvisors
	tickets  *fakeTickets
	events   *fakeEvents
	recov    *fakeRecoveryEvents
	outbox   *fakeOutbox
}

func newFixture(t *testing.T, advisors *fakeAdvisors, tickets *fakeTickets) *fixture {
	t.Helper()

	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	db := sqlx.NewDb(rawDB, "mysql")

	events := &fakeEvents{}
	recov := &fakeRecoveryEvents{}
	outbox := &fakeOutbox{}
	mgr := queue.NewManager(tickets, fakeConfigs{}, events, notify.Nop{})

	coord := NewCoordinator(db, advisors, tickets, events, recov, outbox, mgr, time.Second, time.Minute, 5)
	return &fixture{coord: coord, mock: mock, advisors: advisors, tickets: tickets, events: events, recov: recov, outbox: outbox}
}

func deadAdvisor(id int64) model.Advisor {
	return model.Advisor{
		ID:     id,
		Name:   "Jorge Fuentes",
		Status: model.AdvisorBusy,
		LastHeartbeat: sql.NullTime{
			Time:  time.Now().Add(-5 * time.Minute),
			Valid: true,
		},
	}
}

func TestRecoverDeadWorkersRequeuesOrphanedTicket(t *testing.T) {
	orphan := &model.Ticket{
		ID:        42,
		Numero:    "C042",
		QueueType: model.QueueCaja,
		Status:    model.TicketInProgress,
	}
	advisors := &fakeAdvisors{dead: []model.Advisor{deadAdvisor(3)}}
	tickets := &fakeTickets{currentByAdvisor: map[int64]*model.Ticket{3: orphan}, waiting: 2}
	f := newFixture(t, advisors, tickets)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.coord.RecoverDeadWorkers(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, []int64{42}, tickets.reverted)
	assert.Equal(t, []int64{3}, advisors.recovered)
	assert.Equal(t, []string{model.EventRequeued}, f.events.types)

	require.Len(t, f.recov.recorded, 1)
	ev := f.recov.recorded[0]
	assert.Equal(t, model.RecoveryDeadWorker, ev.RecoveryType)
	assert.Equal(t, model.AdvisorBusy.String(), ev.OldAdvisorStatus)
	assert.Equal(t, model.TicketInProgress.String(), ev.OldTicketStatus.String)

	// redelivery goes through the outbox, not a direct publish
	require.Len(t, f.outbox.inserted, 1)
	ob := f.outbox.inserted[0]
	assert.Equal(t, "tickets.caja", ob.RoutingKey)
	assert.Equal(t, int64(42), ob.AggregateID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRecoverDeadWorkersNoDeadNoWork(t *testing.T) {
	f := newFixture(t, &fakeAdvisors{}, &fakeTickets{})

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.coord.RecoverDeadWorkers(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, f.recov.recorded)
}

func TestRecoverSkipsRequeueForCompletedTicket(t *testing.T) {
	done := &model.Ticket{ID: 42, QueueType: model.QueueCaja, Status: model.TicketCompleted}
	advisors := &fakeAdvisors{dead: []model.Advisor{deadAdvisor(3)}}
	tickets := &fakeTickets{currentByAdvisor: map[int64]*model.Ticket{3: done}}
	f := newFixture(t, advisors, tickets)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.coord.RecoverDeadWorkers(context.Background())
	assert.NoError(t, err)

	// event recorded and advisor freed, but the finished ticket stays put
	assert.Empty(t, tickets.reverted)
	assert.Empty(t, f.outbox.inserted)
	assert.Equal(t, []int64{3}, advisors.recovered)
	assert.Len(t, f.recov.recorded, 1)
}

func TestRecoverAdvisorManual(t *testing.T) {
	adv := deadAdvisor(7)
	advisors := &fakeAdvisors{byID: map[int64]*model.Advisor{7: &adv}}
	tickets := &fakeTickets{}
	f := newFixture(t, advisors, tickets)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.coord.RecoverAdvisor(context.Background(), 7)
	assert.NoError(t, err)

	assert.Equal(t, []int64{7}, advisors.recovered)
	require.Len(t, f.recov.recorded, 1)
	assert.Equal(t, model.RecoveryManual, f.recov.recorded[0].RecoveryType)
}

func TestRecoverAdvisorRejectsNonBusyAdvisor(t *testing.T) {
	adv := deadAdvisor(7)
	adv.Status = model.AdvisorAvailable
	advisors := &fakeAdvisors{byID: map[int64]*model.Advisor{7: &adv}}
	f := newFixture(t, advisors, &fakeTickets{})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.coord.RecoverAdvisor(context.Background(), 7)
	assert.ErrorIs(t, err, ErrAdvisorNotBusy)

	// no fake recovery: no status flip, no audit row
	assert.Empty(t, advisors.recovered)
	assert.Empty(t, f.recov.recorded)
}

func TestRecoverAdvisorUnknownID(t *testing.T) {
	f := newFixture(t, &fakeAdvisors{}, &fakeTickets{})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.coord.RecoverAdvisor(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrAdvisorNotFound)
}
