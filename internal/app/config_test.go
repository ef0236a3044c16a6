package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("REPORT_CACHE_DRIVER", "memory")
	t.Setenv("LOCK_DRIVER", "local")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "15m0s", cfg.ReportCacheTTL.String())
	assert.Equal(t, DriverLocal, cfg.ExportDriver)
	assert.False(t, cfg.FiscalRequirePeriod)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("REPORT_CACHE_DRIVER", "memcached")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPORT_CACHE_DRIVER")
}

func TestMinioDriverNeedsCredentials(t *testing.T) {
	t.Setenv("EXPORT_DRIVER", "minio")
	t.Setenv("MINIO_ACCESS_KEY", "")
	_, err := LoadConfig()
	require.Error(t, err)
}
