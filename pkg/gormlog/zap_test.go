package gormlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestShortCaller(t *testing.T) {
	require.Equal(t, "internal/store/postgres/store.go:38", shortCaller("/home/ci/src/internal/store/postgres/store.go:38"))
	require.Equal(t, "a/b/c.go:1", shortCaller("/x/y/a/b/c.go:1"))
	require.Equal(t, "", shortCaller(""))
}

func TestTrace_LevelsAndIgnoredErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core).Sugar(), WithLevel("warn"), WithSlowThreshold(time.Hour))
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	require.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now(), fc, gorm.ErrDuplicatedKey)
	require.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	require.Equal(t, 1, logs.FilterMessage("gorm_trace").Len())

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	require.Equal(t, 1, logs.Len())
}
