package linkage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/croplink/errors"
	croptest "github.com/teranos/croplink/internal/testing"
	"github.com/teranos/croplink/metrics"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

var allLinks = []sourcecfg.LinkageField{
	{Kind: sourcecfg.LinkRegion},
	{Kind: sourcecfg.LinkFactory},
	{Kind: sourcecfg.LinkFarmer},
	{Kind: sourcecfg.LinkGradingModel, Field: "model"},
}

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	db := croptest.CreateTestDB(t)
	croptest.SeedReference(t, db, "farmers", "FRM-001")
	croptest.SeedReference(t, db, "factories", "FAC-9")
	croptest.SeedReference(t, db, "grading_models", "GM-2")
	croptest.SeedReference(t, db, "regions", "RGN-7")
	return db
}

func newTestValidator(t *testing.T, db *sql.DB) (*Validator, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewValidator(SQLRepositories(db), m, nil), m
}

func TestValidateResolvesAllDeclaredFields(t *testing.T) {
	v, m := newTestValidator(t, seededDB(t))

	links, err := v.Validate(context.Background(), "", allLinks, map[string]any{
		"farmer_id":  "FRM-001",
		"factory_id": "FAC-9",
		"model":      "GM-2",
		"region_id":  "RGN-7",
	})
	require.NoError(t, err)
	assert.Equal(t, Links{
		sourcecfg.LinkFarmer:       "FRM-001",
		sourcecfg.LinkFactory:      "FAC-9",
		sourcecfg.LinkGradingModel: "GM-2",
		sourcecfg.LinkRegion:       "RGN-7",
	}, links)
	assert.Equal(t, 0, testutil.CollectAndCount(m.LinkageFailures))
}

func TestValidateFailsFastInFixedOrder(t *testing.T) {
	v, m := newTestValidator(t, seededDB(t))

	// Invalid farmer and invalid region: farmer comes first
	_, err := v.Validate(context.Background(), "", allLinks, map[string]any{
		"farmer_id":  "FRM-404",
		"factory_id": "FAC-9",
		"model":      "GM-2",
		"region_id":  "RGN-404",
	})
	require.Error(t, err)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ErrorTypeNotFound, lerr.Type)
	assert.Equal(t, "farmer_id", lerr.FieldName())
	assert.Equal(t, "FRM-404", lerr.FieldValue())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkageFailures.WithLabelValues("farmer_id", ErrorTypeNotFound)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LinkageFailures), "only the first failure is counted")

	ec := async.ClassifyError(err)
	assert.True(t, ec.Retryable)
	assert.Equal(t, async.ErrorCode(ErrorTypeNotFound), ec.Code)
	assert.Equal(t, "farmer_id", ec.FieldName)
	assert.Equal(t, "FRM-404", ec.FieldValue)
}

func TestValidateOnlyChecksDeclaredFields(t *testing.T) {
	v, _ := newTestValidator(t, seededDB(t))

	links, err := v.Validate(context.Background(), "", []sourcecfg.LinkageField{{Kind: sourcecfg.LinkFactory}}, map[string]any{
		"farmer_id":  "FRM-404",
		"factory_id": "FAC-9",
	})
	require.NoError(t, err)
	assert.Equal(t, Links{sourcecfg.LinkFactory: "FAC-9"}, links)
}

func TestValidateFailureKinds(t *testing.T) {
	db := seededDB(t)
	_, err := db.Exec(`INSERT INTO farmers (id, tenant_id, name, active) VALUES ('FRM-OLD', '', 'old', 0), ('FRM-T2', 'tenant-2', 't2', 1)`)
	require.NoError(t, err)
	v, _ := newTestValidator(t, db)
	farmer := []sourcecfg.LinkageField{{Kind: sourcecfg.LinkFarmer}}

	tests := []struct {
		name   string
		tenant string
		value  any
		want   string
	}{
		{"missing", "", nil, ErrorTypeMissingValue},
		{"empty", "", "", ErrorTypeMissingValue},
		{"inactive", "", "FRM-OLD", ErrorTypeInactive},
		{"other tenant", "tenant-1", "FRM-T2", ErrorTypeTenantMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]any{}
			if tt.value != nil {
				fields["farmer_id"] = tt.value
			}
			_, err := v.Validate(context.Background(), tt.tenant, farmer, fields)

			var lerr *Error
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.want, lerr.Type)
		})
	}

	t.Run("same tenant passes", func(t *testing.T) {
		_, err := v.Validate(context.Background(), "tenant-2", farmer, map[string]any{"farmer_id": "FRM-T2"})
		assert.NoError(t, err)
	})

	t.Run("numeric ids", func(t *testing.T) {
		croptest.SeedReference(t, db, "farmers", "1042")
		_, err := v.Validate(context.Background(), "", farmer, map[string]any{"farmer_id": json.Number("1042")})
		assert.NoError(t, err)
	})
}

func TestValidateRepositoryOutageIsTransient(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	mock.ExpectQuery("SELECT id, tenant_id, name, active FROM farmers").
		WithArgs("FRM-001").
		WillReturnError(errors.New("database is locked"))

	v, m := newTestValidator(t, mockDB)
	_, err = v.Validate(context.Background(), "", []sourcecfg.LinkageField{{Kind: sourcecfg.LinkFarmer}}, map[string]any{"farmer_id": "FRM-001"})
	require.Error(t, err)

	var lerr *Error
	assert.False(t, errors.As(err, &lerr))
	assert.Equal(t, async.ErrorCodeTransient, async.ClassifyError(err).Code)
	assert.Equal(t, 0, testutil.CollectAndCount(m.LinkageFailures))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLRepositoryRejectsUnknownKind(t *testing.T) {
	_, err := NewSQLRepository(nil, "orchard")
	assert.Error(t, err)
}
