// Package log реализует централизованное логирование на базе zap
package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	log        *zap.SugaredLogger
	baseLogger *zap.Logger
	nopOnce    sync.Once
)

// Init инициализирует логгер пакета
func Init(debug bool) error {
	var zapLogger *zap.Logger
	var err error

	if debug {
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	baseLogger = zapLogger
	log = zapLogger.Sugar()
	return nil
}

// SetLogger подменяет логгер (используется в тестах с zaptest/observer).
// Возвращает функцию восстановления предыдущего логгера.
func SetLogger(l *zap.Logger) (restore func()) {
	prevBase, prev := Logger(), log
	baseLogger = l.WithOptions(zap.AddCallerSkip(1))
	log = baseLogger.Sugar()
	return func() {
		baseLogger, log = prevBase, prev
	}
}

// Logger возвращает базовый логгер, создавая no-op логгер при отсутствии инициализации
func Logger() *zap.Logger {
	nopOnce.Do(func() {
		if baseLogger == nil {
			baseLogger = zap.NewNop()
			log = baseLogger.Sugar()
		}
	})
	return baseLogger
}

func sugar() *zap.SugaredLogger {
	Logger()
	return log
}

// Sync сбрасывает буферизованные записи
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

func Debugw(msg string, keysAndValues ...interface{}) {
	sugar().Debugw(msg, keysAndValues...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	sugar().Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugar().Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar().Warnw(msg, keysAndValues...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	sugar().Errorw(msg, keysAndValues...)
}

func Fatalf(template string, args ...interface{}) {
	sugar().Fatalf(template, args...)
	os.Exit(1)
}
