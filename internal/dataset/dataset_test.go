package dataset

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore/objectstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSVStripsBOMAndSkipsBlankRows(t *testing.T) {
	input := "\ufeffcustomer_id, email ,created_at\n1,a@example.com,2024-01-02\n\n2,NULL,2024-01-03 10:00:00\n3\n"
	ds, err := ReadCSV("customers", strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"customer_id", "email", "created_at"}, ds.Columns())
	assert.Equal(t, 3, ds.Len())

	v, ok := ds.Value(0, "email")
	assert.True(t, ok)
	assert.Equal(t, "a@example.com", v)

	_, ok = ds.Value(1, "email")
	assert.False(t, ok, "NULL literal is null")

	_, ok = ds.Value(2, "email")
	assert.False(t, ok, "ragged row reads as null")
	assert.Equal(t, 2, ds.NullCount("email"))
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV("x", strings.NewReader("   \n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = ReadCSV("x", strings.NewReader("a,b,a\n1,2,3\n"))
	assert.ErrorIs(t, err, ErrDuplicateHeader)

	_, err = ReadCSV("x", strings.NewReader("a,,c\n1,2,3\n"))
	assert.ErrorIs(t, err, ErrMissingHeader)

	_, err = ReadCSV("x", strings.NewReader("a,b\n\xff\xfe,1\n"))
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestDatasetIsImmutable(t *testing.T) {
	cols := []string{"id"}
	rows := [][]string{{"1"}}
	ds := New("t", cols, rows)
	rows[0][0] = "changed"
	cols[0] = "changed"

	assert.Equal(t, "1", ds.Raw(0, "id"))
	got := ds.Columns()
	got[0] = "mutated"
	assert.Equal(t, []string{"id"}, ds.Columns())
}

func TestMissingColumnsKeepsOrder(t *testing.T) {
	ds := New("orders", []string{"order_id", "total_amount"}, nil)
	assert.Equal(t, []string{"customer_id", "order_date"}, ds.MissingColumns([]string{"order_id", "customer_id", "order_date"}))
	assert.Empty(t, ds.MissingColumns([]string{"order_id"}))
}

func TestParseHelpers(t *testing.T) {
	f, ok := ParseFloat(" 12.5 ")
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)
	_, ok = ParseFloat("abc")
	assert.False(t, ok)

	d, ok := ParseDecimal("113.00")
	assert.True(t, ok)
	assert.Equal(t, "113", d.String())

	ts, ok := ParseTime("2024-03-01 12:30:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), ts)
	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
}

func TestMaxTime(t *testing.T) {
	ds := FromRecords("orders", []string{"created_at"}, []map[string]string{
		{"created_at": "2024-01-01T00:00:00Z"},
		{"created_at": "garbage"},
		{"created_at": "2024-02-01"},
		{},
	})
	latest, ok := ds.MaxTime("created_at")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), latest)

	_, ok = ds.MaxTime("missing")
	assert.False(t, ok)
}

func TestLoaderWrapsFailures(t *testing.T) {
	store := objectstoretest.NewMemory("raw")
	store.Seed("raw", "customers/customers.csv", []byte("customer_id,email\n1,a@example.com\n"))
	loader := Loader{Store: store}

	ds, err := loader.Load(context.Background(), "customers", "raw", "customers/customers.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, "customers", ds.Name())

	_, err = loader.Load(context.Background(), "customers", "raw", "customers/missing.csv")
	var dae *DataAccessError
	require.True(t, errors.As(err, &dae))
	assert.True(t, dae.NotFound())
	assert.Equal(t, "raw/customers/missing.csv", dae.Source)

	_, err = loader.Load(context.Background(), "customers", "raw", "customers/customers.parquet")
	require.True(t, errors.As(err, &dae))
	assert.False(t, dae.NotFound())
}

func TestIsCSV(t *testing.T) {
	assert.True(t, IsCSV("orders/2024/orders.CSV"))
	assert.False(t, IsCSV("orders/_SUCCESS"))
	assert.False(t, IsCSV("orders/orders.csv.gz"))
}
