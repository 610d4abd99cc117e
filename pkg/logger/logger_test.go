package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFallback(t *testing.T) {
	log := New(LoggingConfig{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())

	log = New(LoggingConfig{Level: "debug"})
	assert.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())
}

func TestNew_ComponentField(t *testing.T) {
	log := New(LoggingConfig{Level: "info", Format: "json", Component: "ledger"})
	var buf bytes.Buffer
	log.Logger.SetOutput(&buf)

	log.WithField("owner", "alice").Info("deposit applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "alice", line["owner"])
	assert.Equal(t, "deposit applied", line["msg"])
}

func TestNamed(t *testing.T) {
	log := NewDiscard().Named("treasury")
	assert.Equal(t, "treasury", log.Data["component"])

	child := log.With(map[string]interface{}{"operation": "withdraw_treasury"})
	assert.Equal(t, "withdraw_treasury", child.Data["operation"])
	assert.Equal(t, "treasury", child.Data["component"])
}
