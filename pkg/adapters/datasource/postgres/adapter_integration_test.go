//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/testhelpers"
)

func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)

	store, err := datasource.Open(context.Background(), "postgres", map[string]any{
		"host":     testDB.Host,
		"port":     testDB.Port,
		"user":     "finsql",
		"password": "test_password",
		"database": "finsql_test",
		"ssl_mode": "disable",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store.(*Adapter)
}

func TestAdapter_Integration_QueryWithParams(t *testing.T) {
	a := openTestAdapter(t)

	res, err := a.Query(context.Background(),
		"SELECT COUNT(DISTINCT cik) AS count FROM companies WHERE gics_sector = $1",
		[]any{"Energy"}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	assert.Equal(t, "INT8", res.Columns[0].Type)
	assert.EqualValues(t, 2, res.Rows[0]["count"])
}

func TestAdapter_Integration_Limit(t *testing.T) {
	a := openTestAdapter(t)

	res, err := a.Query(context.Background(), "SELECT name FROM companies ORDER BY name", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowCount)
}

func TestAdapter_Integration_ReadOnlyTransaction(t *testing.T) {
	a := openTestAdapter(t)

	res, err := a.Query(context.Background(),
		"SELECT current_setting('transaction_read_only') AS read_only", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "on", res.Rows[0]["read_only"])
}

func TestAdapter_Integration_WrongDatabase(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	a := NewWithPool(testDB.Pool, "other_db")
	err := a.TestConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connected to wrong database")
}
