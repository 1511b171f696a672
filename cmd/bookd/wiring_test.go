// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/bookd/internal/config"
	"github.com/prepstack/bookd/internal/crm"
)

func testConfig(t *testing.T, crmURL string) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "bookd.db")
	cfg.CRM.BaseURL = crmURL
	cfg.APIToken = "secret"
	return cfg
}

func TestBuildEngineWithoutRedis(t *testing.T) {
	mock := crm.NewMockServer()
	defer mock.Close()

	eng, err := buildEngine(testConfig(t, mock.URL))
	require.NoError(t, err)
	defer eng.Close()

	rec := httptest.NewRecorder()
	eng.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "fast store and mock CRM are both up")

	rec = httptest.NewRecorder()
	eng.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildEngineBadStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "bolt"

	_, err := buildEngine(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open fast store")
}

func TestReadinessFailsWhenCRMDown(t *testing.T) {
	mock := crm.NewMockServer()
	cfg := testConfig(t, mock.URL)
	mock.Close()

	eng, err := buildEngine(cfg)
	require.NoError(t, err)
	defer eng.Close()

	rec := httptest.NewRecorder()
	eng.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWaitReadySeesDependencies(t *testing.T) {
	mock := crm.NewMockServer()
	defer mock.Close()

	eng, err := buildEngine(testConfig(t, mock.URL))
	require.NoError(t, err)
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, eng.health.WaitReady(ctx, 10*time.Millisecond))
}
