// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать обработку событий переписки. Поддерживается логирование времени выполнения.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	prefix   atomic.Value // string
	logLevel atomic.Int32
	slowCall atomic.Int64 // time.Duration
	ch       chan string
	once     sync.Once
	dropped  atomic.Int64
)

func init() {
	logLevel.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
	slowCall.Store(int64(100 * time.Millisecond))
}

// ParseLevel переводит строку из конфига в уровень. Неизвестное значение: info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel задаёт минимальный уровень (обычно из config.LogLevel).
func SetLevel(l Level) {
	logLevel.Store(int32(l))
}

// SetSlowThreshold задаёт порог, начиная с которого LogDuration пишет вызов при уровне выше debug.
func SetSlowThreshold(d time.Duration) {
	slowCall.Store(int64(d))
}

func enabled(l Level) bool {
	return l >= Level(logLevel.Load())
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем, теряем лог
		dropped.Add(1)
	}
}

// Dropped возвращает число сообщений, потерянных из-за переполнения буфера.
func Dropped() int64 {
	return dropped.Load()
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "push").
func SetPrefix(p string) {
	prefix.Store(p)
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
	}
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	if enabled(LevelInfo) {
		enqueue(tag() + fmt.Sprint(v...))
	}
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		enqueue(tag() + fmt.Sprintf(format, v...))
	}
}

// Warnf: для деградаций, которые не ломают операцию (push не ушёл, ack отложен).
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		enqueue(tag() + "WARN: " + fmt.Sprintf(format, v...))
	}
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// На уровне debug пишутся все вызовы, иначе только медленнее порога SetSlowThreshold.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(LevelDebug) || elapsed >= time.Duration(slowCall.Load()) {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("conv.List", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
