package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jcastillo/ticketero/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func advisorRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "module_number", "queue_types", "status", "avg_service_time_minutes",
		"total_tickets_served", "last_heartbeat", "recovery_count", "created_at", "updated_at",
	})
}

func TestSelectAvailableForUpdatePicksLeastLoaded(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdvisorsRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM advisors").
		WithArgs("CAJA").
		WillReturnRows(advisorRows().AddRow(
			2, "Maria Gonzalez", 2, "CAJA", "AVAILABLE", 4, 12, now, 0, now, now,
		))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	adv, err := repo.SelectAvailableForUpdate(context.Background(), tx, model.QueueCaja)
	require.NoError(t, err)
	require.NotNil(t, adv)
	assert.Equal(t, int64(2), adv.ID)
	assert.Equal(t, model.AdvisorAvailable, adv.Status)
}

func TestSelectAvailableForUpdateEmptyPool(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdvisorsRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM advisors").
		WithArgs("GERENCIA").
		WillReturnRows(advisorRows())
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	adv, err := repo.SelectAvailableForUpdate(context.Background(), tx, model.QueueGerencia)
	assert.NoError(t, err)
	assert.Nil(t, adv)
}

func TestReleaseUpdatesStatsInOneStatement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdvisorsRepository(db)

	at := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE advisors").
		WithArgs(8, at, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Release(context.Background(), nil, 3, 8, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshHeartbeatsCountsBusyRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdvisorsRepository(db)

	mock.ExpectExec("UPDATE advisors SET last_heartbeat").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RefreshHeartbeats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestListDeadForUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdvisorsRepository(db)

	now := time.Now()
	threshold := now.Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM advisors").
		WithArgs(threshold).
		WillReturnRows(advisorRows().
			AddRow(3, "Jorge Fuentes", 3, "CAJA,PERSONAL", "BUSY", 8, 20, now.Add(-5*time.Minute), 1, now, now).
			AddRow(5, "Luis Herrera", 5, "PERSONAL,EMPRESAS", "BUSY", 12, 9, nil, 0, now, now))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	dead, err := repo.ListDeadForUpdate(context.Background(), tx, threshold)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.False(t, dead[1].LastHeartbeat.Valid)
}

func TestRecoverOnlyTouchesBusyAdvisor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdvisorsRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE advisors\s+SET status = 'AVAILABLE', last_heartbeat = NOW\(\),\s+recovery_count = recovery_count \+ 1, updated_at = NOW\(\)\s+WHERE id = \? AND status = 'BUSY'`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Recover(context.Background(), nil, 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
