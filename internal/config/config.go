// Package config loads limsync's ambient configuration: comparison
// tolerances, apply defaults, and progress-emission cadence. It is
// deliberately small — limsync has a single flat document, not the layered
// per-project configuration of a daemon.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every ambient tunable consulted by the core components.
type Config struct {
	// MTimeToleranceNS is the modification-time tolerance used by the
	// comparator (§4.5) when deciding content and metadata equality.
	MTimeToleranceNS int64 `yaml:"mtime_tolerance_ns"`
	// SSHCompression is the default for ApplySettings.SSHCompression and for
	// the SSH session pool's compression key component.
	SSHCompression bool `yaml:"ssh_compression"`
	// SFTPPutConfirm is the default for ApplySettings.SFTPPutConfirm.
	SFTPPutConfirm bool `yaml:"sftp_put_confirm"`
	// ProgressEmitEveryOps throttles apply-engine progress callbacks by
	// operation count.
	ProgressEmitEveryOps int `yaml:"progress_emit_every_ops"`
	// ProgressEmitEveryMS throttles apply-engine progress callbacks by
	// elapsed wall time.
	ProgressEmitEveryMS int `yaml:"progress_emit_every_ms"`
	// ExtraExcludes is read from the configuration file but not consulted by
	// the scanner, which excludes only its hard-coded folder and file name
	// sets (§4.4/§6).
	ExtraExcludes []string `yaml:"extra_excludes"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		MTimeToleranceNS:     2_000_000_000,
		SSHCompression:       false,
		SFTPPutConfirm:       false,
		ProgressEmitEveryOps: 100,
		ProgressEmitEveryMS:  200,
	}
}

// Path resolves the configuration file location: $LIMSYNC_CONFIG if set,
// otherwise ~/.limsync/config.yaml.
func Path() (string, error) {
	if override := os.Getenv("LIMSYNC_CONFIG"); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to determine home directory")
	}
	return filepath.Join(home, ".limsync", "config.yaml"), nil
}

// Load reads the configuration file, falling back to Defaults if it doesn't
// exist. A sibling ".env" file next to the resolved path, if present, is
// loaded first so its variables are visible to subsequent $LIMSYNC_CONFIG
// style overrides made by the embedding process.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		if loadErr := godotenv.Load(envPath); loadErr != nil {
			return nil, errors.Wrap(loadErr, "unable to load .env overrides")
		}
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration file")
	}

	return cfg, nil
}
