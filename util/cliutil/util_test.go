package cliutil

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert := assert.New(t)

	l, err := parseLevel("DEBUG")
	assert.NoError(err)
	assert.Equal(slog.LevelDebug, l)
	l, err = parseLevel("")
	assert.NoError(err)
	assert.Equal(slog.LevelInfo, l)
	_, err = parseLevel("loud")
	assert.Error(err)
}

func TestSetupSlog(t *testing.T) {
	assert := assert.New(t)
	prev := slog.Default()
	defer slog.SetDefault(prev)

	_, err := SetupSlog(LogOptions{LogFormat: "xml", LogLevel: "info"})
	assert.Error(err)

	logger, err := SetupSlog(LogOptions{LogFormat: "json", LogLevel: "warn", LogPath: filepath.Join(t.TempDir(), "sieve.log")})
	assert.NoError(err)
	assert.False(logger.Enabled(t.Context(), slog.LevelInfo))
	assert.True(logger.Enabled(t.Context(), slog.LevelError))
}

func TestSetupDatabase(t *testing.T) {
	assert := assert.New(t)

	_, err := SetupDatabase("mysql://nope", 10)
	assert.Error(err)

	db, err := SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "mediamod.sqlite"), 10)
	assert.NoError(err)
	sqldb, err := db.DB()
	assert.NoError(err)
	assert.Equal(1, sqldb.Stats().MaxOpenConnections)
	assert.NoError(sqldb.Close())
}
