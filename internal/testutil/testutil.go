// Package testutil provides shared fixtures for package tests: an isolated
// in-memory SQLite store with the production schema, a quiet logger and a gin
// test harness.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/db"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/db/repository"
	"github.com/gridsense/pdmon/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestSetup contains utilities for testing
type TestSetup struct {
	Router   *gin.Engine
	DB       *db.Database
	Repos    *repository.RepositoryFactory
	Logger   *utils.Logger
	Config   *config.Config
	Requires *require.Assertions
}

// TestingT is the subset of testing.TB used by the fixtures
type TestingT interface {
	require.TestingT
	Helper()
	Cleanup(func())
}

// NewTestSetup creates a migrated in-memory database private to the test
func NewTestSetup(t TestingT) *TestSetup {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := utils.NewNopLogger()

	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:          "test-secret-key-for-testing-only",
			ExpirationHours: 1,
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	gormDB := NewTestDB(t)
	database := db.Wrap(gormDB, log)

	router := gin.New()
	router.Use(gin.Recovery())

	return &TestSetup{
		Router:   router,
		DB:       database,
		Repos:    repository.NewRepositoryFactory(gormDB),
		Logger:   log,
		Config:   cfg,
		Requires: require.New(t),
	}
}

// NewTestDB opens a uniquely named shared-cache SQLite database and migrates
// the schema. The single connection serialises writers the way row locks do
// in production.
func NewTestDB(t TestingT) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err, "Failed to create in-memory database")

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gormDB), "Failed to migrate database")

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return gormDB
}

// At returns a UTC timestamp truncated to whole seconds, the resolution
// samples are keyed on
func At(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Dec parses a decimal literal and panics on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NullDec parses a decimal literal into a valid NullDecimal
func NullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(Dec(s))
}

// Hours returns a pointer to an hour count
func Hours(h int) *int {
	return &h
}

// DefaultThresholds mirrors the documented configuration defaults
func DefaultThresholds() models.Thresholds {
	return models.Thresholds{
		Ignore:                Dec("0"),
		Mutation:              Dec("30"),
		Level1:                Dec("20"),
		Level2:                Dec("40"),
		Level3:                Dec("60"),
		DischargeEventRatio:   Dec("0.25"),
		EventCountPeriodHours: 24,
		AlarmResetDelayHours:  24,
		OfflineJudgmentHours:  24,
	}
}

// SeedPoint registers a point with the given code and no threshold overrides
func (ts *TestSetup) SeedPoint(code string, opts ...func(*models.MonitoredPoint)) *models.MonitoredPoint {
	point := &models.MonitoredPoint{
		KKSCode:     code,
		ExternalID:  "ext-" + code,
		EquipmentID: "eq-" + code,
		Name:        "Point " + code,
	}
	for _, opt := range opts {
		opt(point)
	}

	err := ts.DB.DB.Create(point).Error
	ts.Requires.NoError(err, "Failed to create test point")

	return point
}

// SeedSample persists a sample directly, bypassing ingestion
func (ts *TestSetup) SeedSample(code string, at time.Time, magnitude string, level int) *models.AcquisitionSample {
	sample := &models.AcquisitionSample{
		PointCode:      code,
		AcquiredAt:     At(at),
		Magnitude:      Dec(magnitude),
		StatusCode:     1,
		DischargeEvent: level > 0,
		AlarmLevel:     level,
	}

	err := ts.DB.DB.Create(sample).Error
	ts.Requires.NoError(err, "Failed to create test sample")

	return sample
}

// Reload fetches the current state of a point
func (ts *TestSetup) Reload(code string) *models.MonitoredPoint {
	var point models.MonitoredPoint
	err := ts.DB.DB.Where("kks_code = ?", code).First(&point).Error
	ts.Requires.NoError(err, "Failed to reload point")
	return &point
}

// ExecuteRequest executes a test request and returns the response
func (ts *TestSetup) ExecuteRequest(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody []byte
	var err error

	if body != nil {
		reqBody, err = json.Marshal(body)
		ts.Requires.NoError(err, "Failed to marshal request body")
	}

	req, err := http.NewRequest(method, path, bytes.NewBuffer(reqBody))
	ts.Requires.NoError(err, "Failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp := httptest.NewRecorder()
	ts.Router.ServeHTTP(resp, req)

	return resp
}

// ParseResponse parses the JSON response into the provided struct
func (ts *TestSetup) ParseResponse(response *httptest.ResponseRecorder, target interface{}) {
	err := json.Unmarshal(response.Body.Bytes(), target)
	ts.Requires.NoError(err, "Failed to parse response body: %s", response.Body.String())
}

// CreateTestAuthToken creates a JWT token for testing authenticated endpoints
func (ts *TestSetup) CreateTestAuthToken(subject string, role models.Role) string {
	token, err := models.GenerateToken(ts.Config.JWT.Secret, subject, role, time.Hour)
	ts.Requires.NoError(err, "Failed to sign JWT token")
	return token
}
