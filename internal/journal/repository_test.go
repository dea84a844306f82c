package journal_test

import (
	"context"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/journal"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectFreshSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("schema_versions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS session_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS schema_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_versions").WithArgs(journal.SchemaVersion).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestRecordFlushesAtBatchSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectFreshSchema(mock)

	cfg := journal.DefaultConfig()
	cfg.Enabled = true
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Hour

	repo, err := journal.NewRepositoryWithDB(db, cfg, "", logger.Nop())
	require.NoError(t, err)

	ts := time.UnixMilli(1714550400000)
	first := journal.Event{Timestamp: ts, SessionID: "s1", Kind: journal.KindStateChange, FromState: "disconnected", ToState: "connecting"}
	second := journal.Event{Timestamp: ts.Add(time.Second), SessionID: "s1", Kind: journal.KindConnectAttempt, Backend: "mock", Detail: "ok"}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO session_events")
	prep.ExpectExec().
		WithArgs(ts.UnixMilli(), "s1", "state_change", "disconnected", "connecting", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(ts.Add(time.Second).UnixMilli(), "s1", "connect_attempt", "", "", "mock", "ok").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(first))
	require.NoError(t, repo.Record(second))

	mock.ExpectExec(regexp.QuoteMeta("PRAGMA wal_checkpoint(TRUNCATE)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseFlushesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectFreshSchema(mock)

	cfg := journal.DefaultConfig()
	cfg.Enabled = true
	cfg.BatchSize = 10

	repo, err := journal.NewRepositoryWithDB(db, cfg, "", logger.Nop())
	require.NoError(t, err)

	ts := time.UnixMilli(1714550400000)
	require.NoError(t, repo.Record(journal.Event{Timestamp: ts, SessionID: "s2", Kind: journal.KindStopTimeout, Backend: "socket"}))

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO session_events").ExpectExec().
		WithArgs(ts.UnixMilli(), "s2", "stop_timeout", "", "", "socket", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("PRAGMA wal_checkpoint(TRUNCATE)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentSchemaIsKept(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("schema_versions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(journal.SchemaVersion))

	require.NoError(t, journal.ValidateAndUpdateSchema(db, "", logger.Nop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutdatedSchemaIsRecreated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("schema_versions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(journal.SchemaVersion + 1))

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS session_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS schema_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_versions").WithArgs(journal.SchemaVersion).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, journal.ValidateAndUpdateSchema(db, "", logger.Nop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlushFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectFreshSchema(mock)

	cfg := journal.DefaultConfig()
	cfg.Enabled = true
	cfg.BatchSize = 1

	repo, err := journal.NewRepositoryWithDB(db, cfg, "", logger.Nop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO session_events").ExpectExec().
		WillReturnError(stderrors.New("disk I/O error"))
	mock.ExpectRollback()

	err = repo.Record(journal.Event{Timestamp: time.Now(), SessionID: "s3", Kind: journal.KindFallback})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, journal.ErrTransactionFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type memRepo struct {
	events []journal.Event
}

func (m *memRepo) Record(e journal.Event) error { m.events = append(m.events, e); return nil }
func (m *memRepo) Close() error                 { return nil }

func TestRecorderValidatesEvents(t *testing.T) {
	repo := &memRepo{}
	rec := journal.NewRecorder(repo, journal.DefaultConfig())

	err := rec.Record(context.Background(), journal.Event{Kind: journal.KindStateChange})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, journal.ErrInvalidEvent))

	require.NoError(t, rec.Record(context.Background(), journal.Event{SessionID: "s", Kind: journal.KindStateChange}))
	assert.Len(t, repo.events, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = rec.Record(ctx, journal.Event{SessionID: "s", Kind: journal.KindStateChange})
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))
	assert.Len(t, repo.events, 1)
}

func TestDisabledServiceIsNoop(t *testing.T) {
	rec, err := journal.NewService(journal.DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, rec.Record(context.Background(), journal.Event{}))
	assert.NoError(t, rec.Close())
}

func TestConfigValidate(t *testing.T) {
	cfg := journal.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, journal.ErrInvalidDBPath))

	_, err = journal.NewService(cfg, logger.Nop())
	assert.Error(t, err)
}
