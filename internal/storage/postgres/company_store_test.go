package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
)

func TestLoadIndexPairsActivityArrays(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCompanyStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("FROM companies").
		WillReturnRows(pgxmock.NewRows([]string{"name", "postal_code", "camara_link", "activity_ids", "activity_codes"}).
			AddRow("BAR MANOLO", "28001", "https://example.org/1", []int64{1, 2}, []string{"restaurants", "bars"}))

	records, err := store.LoadIndex(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "BAR MANOLO", records[0].Name)
	require.Equal(t, []crawl.Activity{
		{ID: 1, Code: "restaurants"},
		{ID: 2, Code: "bars"},
	}, records[0].Activities)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadIndexMismatchedArrays(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCompanyStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("FROM companies").
		WillReturnRows(pgxmock.NewRows([]string{"name", "postal_code", "camara_link", "activity_ids", "activity_codes"}).
			AddRow("BAR MANOLO", "28001", "", []int64{1, 2}, []string{"restaurants"}))

	_, err = store.LoadIndex(context.Background())
	require.Error(t, err)
}

func TestSaveBatchUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCompanyStore(mock)
	require.NoError(t, err)

	rec := crawl.CompanyRecord{
		Name:       "BAR MANOLO",
		AreaCode:   "28001",
		CamaraLink: "https://example.org/1",
		Activities: []crawl.Activity{{ID: 1, Code: "restaurants"}},
	}

	mock.ExpectExec("INSERT INTO companies").
		WithArgs(rec.Name, rec.AreaCode, rec.CamaraLink, []int64{1}, []string{"restaurants"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveBatch(context.Background(), []crawl.CompanyRecord{rec}))
	require.NoError(t, mock.ExpectationsWereMet())
}
