package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	return &Manager{
		db:     gdb,
		logger: zaptest.NewLogger(t),
	}, mock
}

func TestNewManagerRejectsNil(t *testing.T) {
	_, err := NewManager(zaptest.NewLogger(t), nil)
	assert.EqualError(t, err, "nil DB is invalid")

	m, _ := newMockManager(t)
	_, err = NewManager(nil, m.db)
	assert.EqualError(t, err, "nil Logger is invalid")
}

func TestManagerGetByIDNotFound(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(`SELECT \* FROM "instance" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inst, err := m.GetByID(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, inst)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerFindActiveByName(t *testing.T) {
	m, mock := newMockManager(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "instance" WHERE active = \$1 AND name = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "name", "ipv4", "active", "last_heartbeat"}).
			AddRow("id-1", "client-a", "game", "10.0.0.1", true, now))

	inst, err := m.FindActiveByName(context.Background(), "game")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "id-1", inst.ID)
	assert.Equal(t, "client-a", inst.ClientID)
	assert.Equal(t, "10.0.0.1", deref(inst.IPv4))
	assert.Nil(t, inst.Address)
	assert.Equal(t, now, inst.LastHeartbeat)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerGetByIDError(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(`SELECT \* FROM "instance"`).
		WillReturnError(errors.New("connection reset"))

	_, err := m.GetByID(context.Background(), "id-1")
	assert.ErrorContains(t, err, "Cannot get instance by id")
}

func TestManagerDeactivate(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectExec(`UPDATE "instance" SET .* WHERE active = \$\d+ AND client_id = \$\d+ AND id <> \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := m.Deactivate(context.Background(), DeactivateOption{
		ClientID:       "client-a",
		ExceptID:       "id-1",
		ClearAddresses: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	mock.ExpectExec(`UPDATE "instance" SET .*"last_heartbeat"=.* WHERE active = \$\d+ AND id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err = m.Deactivate(context.Background(), DeactivateOption{
		InstanceID:    "id-1",
		LastHeartbeat: time.Now(),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerDeactivateRequiresOneSelector(t *testing.T) {
	m, mock := newMockManager(t)

	_, err := m.Deactivate(context.Background(), DeactivateOption{})
	assert.Error(t, err)

	_, err = m.Deactivate(context.Background(), DeactivateOption{ClientID: "a", InstanceID: "b"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerRefreshRequiresID(t *testing.T) {
	m, _ := newMockManager(t)

	_, err := m.Refresh(context.Background(), RefreshOption{})
	assert.EqualError(t, err, "empty InstanceID is invalid")
}

func TestManagerExpiry(t *testing.T) {
	m, mock := newMockManager(t)
	cutoff := time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT "id" FROM "instance" WHERE active = \$1 AND last_heartbeat < \$2`).
		WithArgs(true, cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := m.ListExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	mock.ExpectExec(`UPDATE "instance" SET .* WHERE id = \$\d+ AND active = \$\d+ AND last_heartbeat < \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := m.Expire(context.Background(), "a", cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerTransaction(t *testing.T) {
	m, mock := newMockManager(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "event_log"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := m.Transaction(context.Background(), func(tx Store) error {
		return tx.AppendEvent(context.Background(), "id-1", EventServerTimeOut, at)
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = m.Transaction(context.Background(), func(tx Store) error {
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerListActive(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectQuery(`SELECT "name","version" FROM "instance" WHERE active = \$1 ORDER BY name`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"name", "version"}).
			AddRow("alpha", "1.13.2").
			AddRow("beta", "Development"))

	results, err := m.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{Name: "alpha", Version: "1.13.2"},
		{Name: "beta", Version: "Development"},
	}, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerRefreshReportsNameTaken(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectExec(`UPDATE "instance" SET .* WHERE id = \$\d+`).
		WillReturnError(gorm.ErrDuplicatedKey)

	_, err := m.Refresh(context.Background(), RefreshOption{
		InstanceID:    "id-1",
		LastHeartbeat: time.Now(),
	})
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}
