package mysqlconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInterpolateBuildsLiteralStatement(t *testing.T) {
	cfg := &InterpolateConfig{}
	got, err := cfg.Interpolate(
		"INSERT INTO uploads (id, name, created_at, payload) VALUES (?, ?, ?, ?)",
		int64(42), "o'brien", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), []byte("blob"),
	)
	require.NoError(t, err)
	require.Equal(t, `INSERT INTO uploads (id, name, created_at, payload) VALUES (42, 'o\'brien', '2026-01-02 03:04:05', _binary'blob')`, got)
}

func TestInterpolateRejectsArgCountMismatch(t *testing.T) {
	cfg := &InterpolateConfig{}
	_, err := cfg.Interpolate("SELECT ?")
	require.Error(t, err)
}

func TestInterpolateRejectsUnsupportedArgType(t *testing.T) {
	cfg := &InterpolateConfig{}
	_, err := cfg.Interpolate("SELECT ?", struct{}{})
	require.Error(t, err)
}
