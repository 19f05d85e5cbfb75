package config

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config file keys. The file is plain KEY=value text so the operator can
// inspect and hand-edit it between runs.
const (
	KeyName        = "SERVICE_NAME"
	KeyDesc        = "SERVICE_DESC"
	KeyEntryPoint  = "MAIN_SCRIPT"
	KeyInstallDir  = "INSTALL_DIR"
	KeyUser        = "SERVICE_USER"
	KeyBackupFiles = "BACKUP_FILES"
	KeyForceReset  = "GIT_FORCE_RESET"
	KeyHealthURL   = "HEALTHCHECK_URL"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// lookupUser is swapped out in tests.
var lookupUser = user.Lookup

// ServiceConfig holds the non-secret deployment parameters for one service.
type ServiceConfig struct {
	Name           string
	Description    string
	EntryPoint     string
	InstallDir     string
	RunAsUser      string
	BackupFiles    []string
	ForceReset     bool
	HealthcheckURL string

	seeded map[string]bool
}

// Complete reports whether the config can drive an install or upgrade.
// Description, backups and healthcheck are optional.
func (c *ServiceConfig) Complete() bool {
	return c.Name != "" && c.RunAsUser != "" && c.EntryPoint != ""
}

// DefaultInstallDir returns /opt/<name> for the configured service name.
func (c *ServiceConfig) DefaultInstallDir() string {
	return "/opt/" + c.Name
}

// Seeded reports whether a field was pre-filled from a defaults template
// and should skip its interactive prompt this run.
func (c *ServiceConfig) Seeded(key string) bool {
	return c.seeded[key]
}

// ClearSeeded makes every field promptable again. The edit flow calls this
// so the operator can revisit pre-seeded values.
func (c *ServiceConfig) ClearSeeded() {
	c.seeded = nil
}

// ValidationError reports a config problem with a suggested fix.
type ValidationError struct {
	Field      string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateName checks the service name against the unit-name charset.
func ValidateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "SERVICE_NAME", Message: "name is required"}
	}
	if !nameRe.MatchString(name) {
		return &ValidationError{
			Field:      "SERVICE_NAME",
			Message:    fmt.Sprintf("%q contains invalid characters", name),
			Suggestion: "use only letters, digits, '-' and '_'",
		}
	}
	return nil
}

// ValidateUser checks that the run-as account exists on this host.
func ValidateUser(name string) error {
	if name == "" {
		return &ValidationError{Field: "SERVICE_USER", Message: "user is required"}
	}
	if _, err := lookupUser(name); err != nil {
		return &ValidationError{
			Field:      "SERVICE_USER",
			Message:    fmt.Sprintf("user %q does not exist", name),
			Suggestion: "create it first, e.g. useradd --system " + name,
		}
	}
	return nil
}

// Store persists a ServiceConfig as a KEY=value file.
type Store struct {
	Path string
}

// Load reads the config file. The second return is false when no file exists.
func (s *Store) Load() (*ServiceConfig, bool, error) {
	if _, err := os.Stat(s.Path); os.IsNotExist(err) {
		return nil, false, nil
	}
	values, err := godotenv.Read(s.Path)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	return fromMap(values), true, nil
}

// Save writes the config file, replacing any previous content.
func (s *Store) Save(cfg *ServiceConfig) error {
	values := map[string]string{
		KeyName:        cfg.Name,
		KeyDesc:        cfg.Description,
		KeyEntryPoint:  cfg.EntryPoint,
		KeyInstallDir:  cfg.InstallDir,
		KeyUser:        cfg.RunAsUser,
		KeyBackupFiles: strings.Join(cfg.BackupFiles, " "),
		KeyForceReset:  fmt.Sprintf("%t", cfg.ForceReset),
		KeyHealthURL:   cfg.HealthcheckURL,
	}
	if err := godotenv.Write(values, s.Path); err != nil {
		return fmt.Errorf("writing %s: %w", s.Path, err)
	}
	return nil
}

// Seed overlays values from a defaults template onto cfg. Only fields that
// are still empty are filled; each filled field is marked to skip its
// interactive prompt for this run. A missing template is not an error.
func Seed(cfg *ServiceConfig, templatePath string) error {
	if templatePath == "" {
		return nil
	}
	if _, err := os.Stat(templatePath); os.IsNotExist(err) {
		return nil
	}
	values, err := godotenv.Read(templatePath)
	if err != nil {
		return fmt.Errorf("reading defaults template %s: %w", templatePath, err)
	}
	seeded := fromMap(values)
	if cfg.seeded == nil {
		cfg.seeded = make(map[string]bool)
	}
	mark := func(key string) { cfg.seeded[key] = true }

	if cfg.Name == "" && seeded.Name != "" {
		cfg.Name = seeded.Name
		mark(KeyName)
	}
	if cfg.Description == "" && seeded.Description != "" {
		cfg.Description = seeded.Description
		mark(KeyDesc)
	}
	if cfg.EntryPoint == "" && seeded.EntryPoint != "" {
		cfg.EntryPoint = seeded.EntryPoint
		mark(KeyEntryPoint)
	}
	if cfg.InstallDir == "" && seeded.InstallDir != "" {
		cfg.InstallDir = seeded.InstallDir
		mark(KeyInstallDir)
	}
	if cfg.RunAsUser == "" && seeded.RunAsUser != "" {
		cfg.RunAsUser = seeded.RunAsUser
		mark(KeyUser)
	}
	if len(cfg.BackupFiles) == 0 && len(seeded.BackupFiles) > 0 {
		cfg.BackupFiles = seeded.BackupFiles
		mark(KeyBackupFiles)
	}
	if _, present := values[KeyForceReset]; present && !cfg.ForceReset {
		cfg.ForceReset = seeded.ForceReset
		mark(KeyForceReset)
	}
	if cfg.HealthcheckURL == "" && seeded.HealthcheckURL != "" {
		cfg.HealthcheckURL = seeded.HealthcheckURL
		mark(KeyHealthURL)
	}
	return nil
}

func fromMap(values map[string]string) *ServiceConfig {
	cfg := &ServiceConfig{
		Name:           values[KeyName],
		Description:    values[KeyDesc],
		EntryPoint:     values[KeyEntryPoint],
		InstallDir:     values[KeyInstallDir],
		RunAsUser:      values[KeyUser],
		HealthcheckURL: values[KeyHealthURL],
		ForceReset:     values[KeyForceReset] == "true",
	}
	if raw := strings.TrimSpace(values[KeyBackupFiles]); raw != "" {
		cfg.BackupFiles = strings.Fields(raw)
	}
	return cfg
}
