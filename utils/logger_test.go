package utils

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	out := logger.Out
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(out) })
	return &buf
}

func TestSetVerbose_And_IsVerbose(t *testing.T) {
	// save original state and restore after test
	original := IsVerbose()
	defer SetVerbose(original)

	SetVerbose(true)
	if !IsVerbose() {
		t.Error("expected IsVerbose() = true after SetVerbose(true)")
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", logger.GetLevel())
	}

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected IsVerbose() = false after SetVerbose(false)")
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %s", logger.GetLevel())
	}
}

func TestVerbose_SuppressedWhenDisabled(t *testing.T) {
	original := IsVerbose()
	defer SetVerbose(original)
	buf := captureLogs(t)

	SetVerbose(false)
	Verbose("test message %s %d", "arg", 42)
	assert.Empty(t, buf.String())
}

func TestVerbose_WrittenWhenEnabled(t *testing.T) {
	original := IsVerbose()
	defer SetVerbose(original)
	buf := captureLogs(t)

	SetVerbose(true)
	Verbose("test message %s %d", "arg", 42)
	assert.Contains(t, buf.String(), "test message arg 42")
}

func TestWithFields_IncludesFields(t *testing.T) {
	buf := captureLogs(t)

	WithFields(logrus.Fields{"device": "emulator-5554"}).Info("started")
	assert.Contains(t, buf.String(), "device=emulator-5554")
	assert.Contains(t, buf.String(), "started")
}

func TestInfoWarnError_DoNotPanic(t *testing.T) {
	captureLogs(t)

	Info("test info %s", "message")
	Warn("test warn %s", "message")
	Error("test error %s", "message")
}
