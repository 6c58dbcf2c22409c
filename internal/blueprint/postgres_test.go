package blueprint

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleads/chimera/internal/mission"
)

func TestPostgresStoreCommitUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store, err := NewPostgresStoreWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO site_blueprints").
		WithArgs(
			"truepeoplesearch.com",
			[]byte(`{"name_input":"#id-d-n"}`),
			0.9,
			0,
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Commit(context.Background(), mission.Blueprint{
		Domain:     "truepeoplesearch.com",
		Selectors:  map[string]string{mission.IntentNameInput: "#id-d-n"},
		Confidence: 0.9,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock, fixedClock{now: time.Now()})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT selectors, confidence").
		WithArgs("unknown.example").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "unknown.example")
	assert.ErrorIs(t, err, mission.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecordRepair(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store, err := NewPostgresStoreWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)

	repair := mission.SelectorRepair{
		Domain:           "truepeoplesearch.com",
		Intent:           mission.IntentPhoneField,
		OriginalSelector: ".phone",
		NewSelector:      "span[itemprop=telephone]",
		Confidence:       0.88,
		CreatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO selector_repairs").
		WithArgs(repair.Domain, repair.Intent, repair.OriginalSelector,
			repair.NewSelector, repair.Confidence, repair.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE site_blueprints").
		WithArgs(repair.Domain, repair.Intent, repair.NewSelector,
			DecayFactor, ConfidenceFloor, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RecordRepair(context.Background(), repair))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMappingRequired(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock, fixedClock{now: time.Now()})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"domain"}).
		AddRow("fastpeoplesearch.com").
		AddRow("spokeo.com")
	mock.ExpectQuery("SELECT domain FROM site_blueprints").WillReturnRows(rows)

	domains, err := store.MappingRequired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fastpeoplesearch.com", "spokeo.com"}, domains)
	require.NoError(t, mock.ExpectationsWereMet())
}
