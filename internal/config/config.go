// Package config loads the daemon's single optional JSON configuration
// document (§6 "Configuration (external)"). It is read once at startup;
// there is no hot-reload.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/winmux/winmux/internal/winenv"
)

// Config is the daemon's resolved configuration, after defaults have been
// applied. %NAME% references are expanded only when a file was read (see
// Load).
type Config struct {
	DefaultShell string `json:"defaultShell"`
	DefaultCwd   string `json:"defaultCwd"`
	MaxSessions  int    `json:"maxSessions"`
	BufferSize   int    `json:"bufferSize"`
}

// Defaults returns the configuration used when no file is present, matching
// the recognised-keys table in §6.
func Defaults() Config {
	return Config{
		DefaultShell: "pwsh.exe",
		DefaultCwd:   "%USERPROFILE%",
		MaxSessions:  50,
		BufferSize:   4096,
	}
}

// Load reads path, overlaying any present fields onto Defaults(). A missing
// file is not an error — it simply yields the defaults, the "single
// optional JSON document" described in §6. When a file is read, %NAME%-style
// references inside DefaultShell and DefaultCwd are expanded here; an empty
// path or a missing file returns Defaults() unexpanded. Session creation
// expands the shell and cwd it uses again in either case.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.DefaultShell = winenv.Expand(cfg.DefaultShell)
	cfg.DefaultCwd = winenv.Expand(cfg.DefaultCwd)

	return cfg, nil
}
