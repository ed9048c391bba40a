package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/textilehq/backoffice/internal/profitloss"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.Equal(t, int64(10<<20), cfg.UploadMaxBytes)
	require.Equal(t, "15 1 * * *", cfg.WarmupCron)
	require.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)
	require.False(t, cfg.Archive().Enabled())
}

func TestLoadConfigDerivesModuleSettings(t *testing.T) {
	t.Setenv("PL_RTO_POLICY", "zero")
	t.Setenv("PL_GUESS_IDENTIFIERS", "false")
	t.Setenv("PL_LOOKUP_CONCURRENCY", "3")
	t.Setenv("PL_STAGING_TTL", "2h")
	t.Setenv("INVENTORY_ALLOW_NEGATIVE", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	pl := cfg.ProfitLoss()
	require.Equal(t, profitloss.RTOPolicyZero, pl.Reconciler.Rules.RTO)
	require.False(t, pl.Reconciler.GuessIdentifiers)
	require.Equal(t, 3, pl.Reconciler.LookupConcurrency)
	require.Equal(t, 2*time.Hour, pl.StagingTTL)
	require.True(t, cfg.Inventory().AllowNegativeStock)
	require.True(t, cfg.Sales().AllowNegativeStock)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("PL_RTO_POLICY", "refund")
	t.Setenv("PL_SWEEP_CRON", "whenever")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("ARCHIVE_ENDPOINT", "minio:9000")

	_, err := LoadConfig()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "PL_SWEEP_CRON")
	require.Contains(t, msg, "LOG_FORMAT")
	require.Contains(t, msg, "ARCHIVE_BUCKET")
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Info("hello")
	require.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger := newLogger(&Config{LogFormat: "text", AppEnv: "production"}, &buf)
	logger.Debug("hidden")
	logger.Info("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "msg=shown")
}

func TestInTestMode(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "sometimes": false} {
		t.Setenv("BACKOFFICE_TEST_MODE", value)
		RefreshTestMode()
		require.Equal(t, want, InTestMode(), "BACKOFFICE_TEST_MODE=%q", value)
	}
}

func TestLoadConfigConnectionSettings(t *testing.T) {
	t.Setenv("PG_MAX_CONNS", "20")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("REDIS_DB", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	pg := cfg.Postgres()
	require.EqualValues(t, 20, pg.MaxConns)
	require.Equal(t, 5*time.Minute, pg.MaxConnIdleTime)

	rd := cfg.Redis()
	require.Equal(t, "cache:6380", rd.Addr)
	require.Equal(t, 2, rd.DB)

	q := cfg.Queue()
	require.Equal(t, rd.Addr, q.Addr)
	require.Equal(t, "s3cret", q.Password)
	require.Equal(t, 2, q.DB)
}

func TestLoadConfigRejectsEmptyPool(t *testing.T) {
	t.Setenv("PG_MAX_CONNS", "0")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "PG_MAX_CONNS")
}
