package log

import (
	"bytes"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func newCapturedLogger() (*GologLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	glogger := golog.New()
	glogger.SetOutput(&buf)
	glogger.SetTimeFormat("")
	return NewGologLogger(glogger), &buf
}

func TestGologLoggerDefaultsToInfo(t *testing.T) {
	logger, buf := newCapturedLogger()
	assert.Equal(t, LogLevelInfo, logger.GetLevel())

	logger.Debug("hidden")
	logger.Info("deployed project %s", "p1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "deployed project p1")
}

func TestGologLoggerFormatsArguments(t *testing.T) {
	logger, buf := newCapturedLogger()
	logger.SetLevel(LogLevelDebug)

	logger.Debug("executable %s: %d outputs", "ada", 3)
	logger.Warn("scheduled event %s skipped", "Tick")
	logger.Error("storage: %v", assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "executable ada: 3 outputs")
	assert.Contains(t, out, "scheduled event Tick skipped")
	assert.Contains(t, out, assert.AnError.Error())
}

func TestGologLoggerLevelFiltering(t *testing.T) {
	logger, buf := newCapturedLogger()
	logger.SetLevel(LogLevelError)
	assert.Equal(t, LogLevelError, logger.GetLevel())

	logger.Debug("nope")
	logger.Info("nope")
	logger.Warn("nope")
	logger.Error("kept")

	assert.NotContains(t, buf.String(), "nope")
	assert.Contains(t, buf.String(), "kept")
}

func TestGologLoggerNoneSilencesEverything(t *testing.T) {
	logger, buf := newCapturedLogger()
	logger.SetLevel(LogLevelNone)

	logger.Error("even errors")
	assert.Empty(t, buf.String())
}
