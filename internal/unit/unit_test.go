package unit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svclift/svclift/internal/config"
)

func testConfig() *config.ServiceConfig {
	return &config.ServiceConfig{
		Name:        "weatherbot",
		Description: "hourly weather poster",
		EntryPoint:  "main.py",
		InstallDir:  "/opt/weatherbot",
		RunAsUser:   "svc-weather",
	}
}

func TestRenderWithSecrets(t *testing.T) {
	text, err := Render(testConfig(), true)
	require.NoError(t, err)

	assert.Contains(t, text, "Description=hourly weather poster")
	assert.Contains(t, text, "WorkingDirectory=/opt/weatherbot")
	assert.Contains(t, text, "User=svc-weather")
	assert.Contains(t, text, "ExecStart=/opt/weatherbot/.venv/bin/python /opt/weatherbot/main.py")
	assert.Contains(t, text, "EnvironmentFile=/opt/weatherbot/.env")
	assert.Contains(t, text, "Restart=always")
	assert.Contains(t, text, "RestartSec=5")
	assert.Contains(t, text, "WantedBy=multi-user.target")
}

func TestRenderWithoutSecrets(t *testing.T) {
	text, err := Render(testConfig(), false)
	require.NoError(t, err)
	assert.NotContains(t, text, "EnvironmentFile")
}

func TestRenderDefaultsDescriptionToName(t *testing.T) {
	cfg := testConfig()
	cfg.Description = ""
	text, err := Render(cfg, false)
	require.NoError(t, err)
	assert.Contains(t, text, "Description=weatherbot")
}

func TestRenderGroupFallsBackToUser(t *testing.T) {
	// the account does not exist on the test host, so the group falls
	// back to the user name, matching systemd's convention
	text, err := Render(testConfig(), false)
	require.NoError(t, err)
	assert.Contains(t, text, "Group=svc-weather")
}

func TestRenderSectionsOrdered(t *testing.T) {
	text, err := Render(testConfig(), true)
	require.NoError(t, err)
	unitIdx := strings.Index(text, "[Unit]")
	serviceIdx := strings.Index(text, "[Service]")
	installIdx := strings.Index(text, "[Install]")
	assert.True(t, unitIdx < serviceIdx && serviceIdx < installIdx)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "weatherbot.service", FileName("weatherbot"))
}
