// Copyright 2026 The GridPanel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
}

// TestPurpose: Validates defaults for the login limiter and session.
// Scope: Unit Test
// Expected: 15m window, 5 attempts, 1m sweep, secure cookies on by default.
// Test Case ID: CFG-01
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.RateLimit.CleanupInterval)
	assert.True(t, cfg.Session.CookieSecure)
	assert.Equal(t, "gridpanel_session", cfg.Session.CookieName)
	assert.Nil(t, cfg.Routes.Public)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RATELIMIT_WINDOW", "60s")
	t.Setenv("RATELIMIT_MAX_ATTEMPTS", "3")
	t.Setenv("ROUTES_ADMIN", " /admin, /api/admin ,,")
	t.Setenv("RATELIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.RateLimit.MaxAttempts)
	assert.Equal(t, []string{"/admin", "/api/admin"}, cfg.Routes.AdminOnly)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
}

// TestPurpose: Validates that unsafe configuration aborts startup.
// Scope: Unit Test
// Security: Fail-closed configuration
// Expected: Missing secrets and a zero attempt budget are rejected together.
// Test Case ID: CFG-02
func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("SESSION_SECRET", "short")
	t.Setenv("RATELIMIT_MAX_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.Contains(t, err.Error(), "SESSION_SECRET")
	assert.Contains(t, err.Error(), "RATELIMIT_MAX_ATTEMPTS")
}

// TestPurpose: Validates the optional development .env file.
// Scope: Unit Test
// Expected: Values from .env fill unset variables; real environment variables win.
// Test Case ID: CFG-03
func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := "DB_PASSWORD=from-file\nSESSION_SECRET=abcdefghijklmnopqrstuvwxyz012345\nRATELIMIT_MAX_ATTEMPTS=7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	// Registered so the values godotenv sets are restored after the test.
	for _, key := range []string{"DB_PASSWORD", "SESSION_SECRET"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("RATELIMIT_MAX_ATTEMPTS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Database.Password)
	assert.Equal(t, 4, cfg.RateLimit.MaxAttempts)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "grid", Password: "p@ss", Database: "gridpanel", SSLMode: "disable"}
	assert.Equal(t, "postgres://grid:p%40ss@db:5432/gridpanel?sslmode=disable", d.DSN())
}
