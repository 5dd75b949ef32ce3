package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	require.Equal(t, "http://127.0.0.1:1224", cfg.OCR.BaseURL)
	require.Equal(t, 120*time.Second, cfg.OCR.Timeout)
	require.Equal(t, uint64(3), cfg.OCR.MaxRetries)
	require.Equal(t, 1024, cfg.OCR.DetLimitSideLen)

	require.Equal(t, "https://open.bigmodel.cn/api/anthropic", cfg.AI.BaseURL)
	require.Equal(t, "glm-4.6", cfg.AI.Model)
	require.Equal(t, 2048, cfg.AI.MaxTokens)

	require.Equal(t, 512, cfg.Cache.MaxEntries)
	require.Equal(t, 3.0, cfg.Render.OCRScale)
	require.Equal(t, 3, cfg.Batch.Workers)
	require.Equal(t, 5*time.Minute, cfg.Batch.DocTimeout)
	require.Equal(t, 0.70, cfg.Batch.MinAIConf)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OCR_URL", "http://ocr.internal:9000")
	t.Setenv("BATCH_WORKERS", "7")
	t.Setenv("RENDER_OCR_SCALE", "2.5")
	t.Setenv("OCR_TIMEOUT", "30s")

	cfg := LoadConfig()
	require.Equal(t, "http://ocr.internal:9000", cfg.OCR.BaseURL)
	require.Equal(t, 7, cfg.Batch.Workers)
	require.Equal(t, 2.5, cfg.Render.OCRScale)
	require.Equal(t, 30*time.Second, cfg.OCR.Timeout)
}

func TestLoadConfig_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("BATCH_WORKERS", "lots")
	t.Setenv("OCR_TIMEOUT", "soon")

	cfg := LoadConfig()
	require.Equal(t, 3, cfg.Batch.Workers)
	require.Equal(t, 120*time.Second, cfg.OCR.Timeout)
}

func TestConfig_Validate(t *testing.T) {
	cfg := LoadConfig()
	cfg.Batch.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CONFIG_ERROR", appErr.Code)
	require.ErrorIs(t, err, ErrInvalidInput)
}
