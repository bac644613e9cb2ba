package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"custody-node/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	err := InitLogger(config.LoggerConfig{
		Level:    "debug",
		Format:   "json",
		FilePath: filepath.Join(t.TempDir(), "custody.log"),
		MaxSize:  1,
		TSSLevel: "error",
	})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())

	assert.Error(t, InitLogger(config.LoggerConfig{Level: "loud"}))
}

func TestRoundFields(t *testing.T) {
	require.NoError(t, InitLogger(config.LoggerConfig{Level: "info", Format: "json"}))
	var buf bytes.Buffer
	Log.SetOutput(&buf)

	Round("ecdsa-dkg", "initiator", 2).Info("round complete")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ecdsa-dkg", line["protocol"])
	assert.Equal(t, "initiator", line["role"])
	assert.EqualValues(t, 2, line["round"])
}
