package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
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

	waiting   int
	inserted  []*model.Ticket
	insertErr error
	byRef     map[string]*model.Ticket
}

func (f *fakeTickets) Insert(_ context.Context, _ *sqlx.Tx, t *model.Ticket) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	t.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, t)
	return nil
}

func (f *fakeTickets) CountWaiting(context.Context, *sqlx.Tx, model.QueueType) (int, error) {
	return f.waiting, nil
}

func (f *fakeTickets) GetByReference(_ context.Context, code string) (*model.Ticket, error) {
	t, ok := f.byRef[code]
	if !ok {
		return nil, repository.ErrTicketNotFound
	}
	return t, nil
}

func (f *fakeTickets) ListWaiting(_ context.Context, _ *sqlx.Tx, q model.QueueType) ([]model.Ticket, error) {
	var out []model.Ticket
	for _, t := range f.byRef {
		if t.QueueType == q && t.Status == model.TicketWaiting {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fakeEvents struct {
	types []string
}

func (f *fakeEvents) Insert(_ context.Context, _ *sqlx.Tx, e model.TicketEvent) error {
	f.types = append(f.types, e.EventType)
	return nil
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

func newTestService(t *testing.T, tickets *fakeTickets) (*Service, sqlmock.Sqlmock, *fakeEvents, *fakeOutbox) {
	t.Helper()

	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	db := sqlx.NewDb(rawDB, "mysql")

	events := &fakeEvents{}
	outbox := &fakeOutbox{}
	mgr := queue.NewManager(tickets, fakeConfigs{}, events, notify.Nop{})

	return New(db, tickets, events, outbox, mgr, notify.Nop{}, 5), mock, events, outbox
}

func TestCreateWritesTicketEventAndOutboxInOneTx(t *testing.T) {
	tickets := &fakeTickets{waiting: 2}
	svc, mock, events, outbox := newTestService(t, tickets)

	mock.ExpectBegin()
	mock.ExpectCommit()

	created, err := svc.Create(context.Background(), CreateRequest{
		NationalID:   "12345678-9",
		Telefono:     "+56 9 1234 5678",
		BranchOffice: "Providencia",
		QueueType:    model.QueueCaja,
	})
	require.NoError(t, err)

	assert.Equal(t, model.TicketWaiting, created.Status)
	assert.Equal(t, 3, created.PositionInQueue)       // 2 waiting + 1
	assert.Equal(t, 10, created.EstimatedWaitMinutes) // (3-1) x 5
	assert.Equal(t, "+56912345678", created.Telefono) // normalized
	assert.Regexp(t, regexp.MustCompile(`^C\d{3}$`), created.Numero)
	assert.Len(t, created.ReferenceCode, 26)

	assert.Equal(t, []string{model.EventCreated}, events.types)

	require.Len(t, outbox.inserted, 1)
	ob := outbox.inserted[0]
	assert.Equal(t, "TICKET", ob.AggregateType)
	assert.Equal(t, created.ID, ob.AggregateID)
	assert.Equal(t, "tickets.caja", ob.RoutingKey)
	assert.Equal(t, 5, ob.MaxRetries)

	var qm model.QueueMessage
	require.NoError(t, json.Unmarshal(ob.Payload, &qm))
	assert.Equal(t, created.ID, qm.TicketID)
	assert.Equal(t, created.Numero, qm.Numero)
	assert.Equal(t, model.QueueCaja, qm.QueueType)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnInsertFailure(t *testing.T) {
	tickets := &fakeTickets{insertErr: errors.New("duplicate reference")}
	svc, mock, _, outbox := newTestService(t, tickets)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), CreateRequest{
		NationalID:   "12345678-9",
		BranchOffice: "Providencia",
		QueueType:    model.QueueCaja,
	})
	assert.Error(t, err)
	assert.Empty(t, outbox.inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionListsTicketsAhead(t *testing.T) {
	now := time.Now()
	mine := &model.Ticket{
		ID: 3, ReferenceCode: "REF3", Numero: "C003", QueueType: model.QueueCaja,
		Status: model.TicketWaiting, PositionInQueue: 3, EstimatedWaitMinutes: 10, CreatedAt: now,
	}
	tickets := &fakeTickets{byRef: map[string]*model.Ticket{
		"REF1": {ID: 1, ReferenceCode: "REF1", Numero: "C001", QueueType: model.QueueCaja, Status: model.TicketWaiting, PositionInQueue: 1},
		"REF2": {ID: 2, ReferenceCode: "REF2", Numero: "C002", QueueType: model.QueueCaja, Status: model.TicketWaiting, PositionInQueue: 2},
		"REF3": mine,
	}}
	svc, _, _, _ := newTestService(t, tickets)

	p, err := svc.Position(context.Background(), "REF3")
	require.NoError(t, err)

	assert.Equal(t, 3, p.Position)
	assert.Equal(t, 2, p.TicketsAhead)
	assert.ElementsMatch(t, []string{"C001", "C002"}, p.Ahead)
}

func TestPositionForSettledTicketHasNoQueue(t *testing.T) {
	tickets := &fakeTickets{byRef: map[string]*model.Ticket{
		"REF9": {ID: 9, ReferenceCode: "REF9", Numero: "C009", QueueType: model.QueueCaja, Status: model.TicketCompleted},
	}}
	svc, _, _, _ := newTestService(t, tickets)

	p, err := svc.Position(context.Background(), "REF9")
	require.NoError(t, err)
	assert.Equal(t, model.TicketCompleted.String(), p.Status)
	assert.Zero(t, p.TicketsAhead)
	assert.Empty(t, p.Ahead)
}

func TestPositionUnknownReference(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeTickets{})

	_, err := svc.Position(context.Background(), "NOPE")
	assert.ErrorIs(t, err, repository.ErrTicketNotFound)
}

func TestDisplayNumberPrefix(t *testing.T) {
	for _, q := range model.AllQueueTypes() {
		n := displayNumber(q)
		assert.Len(t, n, 4)
		assert.Equal(t, q.String()[0], n[0])
	}
}
