// Package unit renders the systemd service definition for a deployment.
// The unit is derived state: regenerated on every install and upgrade,
// never hand-edited.
package unit

import (
	"bytes"
	"os/user"
	"path/filepath"
	"text/template"

	"github.com/svclift/svclift/internal/config"
)

const unitTemplate = `[Unit]
Description={{ .Description }}
After=network.target

[Service]
Type=simple
User={{ .User }}
Group={{ .Group }}
WorkingDirectory={{ .WorkingDir }}
{{- if .EnvFile }}
EnvironmentFile={{ .EnvFile }}
{{- end }}
ExecStart={{ .Python }} {{ .EntryPoint }}
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// VenvDir is the persistent isolated dependency environment inside the
// install directory.
const VenvDir = ".venv"

// SecretsFileName is the env-format secrets file inside the install
// directory, injected via EnvironmentFile when present.
const SecretsFileName = ".env"

type unitData struct {
	Description string
	User        string
	Group       string
	WorkingDir  string
	EnvFile     string
	Python      string
	EntryPoint  string
}

// FileName returns the unit file name for a service.
func FileName(name string) string {
	return name + ".service"
}

// primaryGroup resolves the user's primary group name, falling back to the
// user name itself when the account cannot be resolved (systemd applies the
// same convention for system accounts).
func primaryGroup(username string) string {
	u, err := user.Lookup(username)
	if err != nil {
		return username
	}
	g, err := user.LookupGroupId(u.Gid)
	if err != nil {
		return username
	}
	return g.Name
}

// Render produces the unit text for cfg. The EnvironmentFile directive is
// emitted only when a secrets file exists, so a secret-less deployment gets
// a unit systemd will not refuse to start.
func Render(cfg *config.ServiceConfig, hasSecretsFile bool) (string, error) {
	desc := cfg.Description
	if desc == "" {
		desc = cfg.Name
	}
	data := unitData{
		Description: desc,
		User:        cfg.RunAsUser,
		Group:       primaryGroup(cfg.RunAsUser),
		WorkingDir:  cfg.InstallDir,
		Python:      filepath.Join(cfg.InstallDir, VenvDir, "bin", "python"),
		EntryPoint:  filepath.Join(cfg.InstallDir, cfg.EntryPoint),
	}
	if hasSecretsFile {
		data.EnvFile = filepath.Join(cfg.InstallDir, SecretsFileName)
	}

	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
