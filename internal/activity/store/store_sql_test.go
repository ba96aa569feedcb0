package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuswatch/internal/activity/models"
)

func newMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQL(db), mock
}

func TestSQLStorePut(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := models.Event{ID: "e1", UserID: "u1", Timestamp: ts, Type: models.TypeAppSwitch, Meta: map[string]string{"app": "Code"}}

	t.Run("zero rows affected is a duplicate", func(t *testing.T) {
		s, mock := newMockSQLStore(t)
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, id) DO NOTHING")).
			WithArgs("u1", "e1", ts.UnixNano(), "app_switch", `{"app":"Code"}`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		res, err := s.Put(context.Background(), e)
		require.NoError(t, err)
		assert.Equal(t, models.PutDuplicate, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		s, mock := newMockSQLStore(t)
		mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("connection reset"))

		_, err := s.Put(context.Background(), e)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert event")
	})
}

func TestSQLStoreQueryBuildsCursor(t *testing.T) {
	s, mock := newMockSQLStore(t)
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "ts_unix_nano", "type", "meta"}).
		AddRow("e1", t0.UnixNano(), "app_switch", `{"app":"Code"}`).
		AddRow("e2", t0.Add(time.Second).UnixNano(), "file_save", `{}`).
		AddRow("e3", t0.Add(2*time.Second).UnixNano(), "idle", `{}`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM events")).
		WithArgs("u1", minNano, maxNano, minNano, "", 3).
		WillReturnRows(rows)

	page, err := s.Query(context.Background(), models.QueryParams{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, models.TypeFileSave, page.Events[1].Type)
	assert.Equal(t, EncodeCursor(page.Events[1]), page.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePrune(t *testing.T) {
	s, mock := newMockSQLStore(t)
	cutoff := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM events WHERE ts_unix_nano < $1")).
		WithArgs(cutoff.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.Prune(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
