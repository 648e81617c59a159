package bundlestore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests drive the SQL error paths against a mocked database; the
// happy paths run against a real sqlite file in store_test.go.

func TestActivateRollsBackWhenPromoteFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant_id FROM bundles WHERE bundle_id = ?`)).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("tenant-a"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bundles SET status = ?, activated_at = NULL`)).
		WithArgs(string(StatusInactive), "tenant-a", string(StatusActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bundles SET status = ?, activated_at = ?`)).
		WillReturnError(boom)
	mock.ExpectRollback()

	err = s.Activate(context.Background(), "b-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateUnknownBundle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant_id FROM bundles WHERE bundle_id = ?`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
	mock.ExpectRollback()

	err = s.Activate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBundleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSurfacesInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	boom := errors.New("constraint violated")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(version) FROM bundles WHERE tenant_id = ?`)).
		WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bundles`)).
		WillReturnError(boom)

	_, err = s.Store(context.Background(), "tenant-a", "package tenants.tenant_a\n", "", StatusDraft)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
