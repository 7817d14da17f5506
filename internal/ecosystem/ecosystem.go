package ecosystem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/pm2ctl/internal/pm2"
)

// Request is a caller's process-creation request before validation.
type Request struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Interpreter string            `json:"interpreter,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Instances   int               `json:"instances,omitempty"`
	AutoRestart bool              `json:"auto_restart,omitempty"`
	MaxMemory   string            `json:"max_memory_restart,omitempty"`
}

// Config is the validated descriptor handed to pm2. It exists only for
// the duration of a create operation; pm2's registry owns the process
// afterwards.
type Config struct {
	Name        string
	Script      string
	Interpreter string
	Args        []string
	Env         map[string]string
	Cwd         string
	Instances   int
	AutoRestart bool
	MaxMemory   string
}

// interpreter defaults keyed by script extension.
var interpreterByExt = map[string]string{
	".py": "python3",
	".js": "node",
	".rb": "ruby",
	".pl": "perl",
	".sh": "/bin/sh",
}

// Build validates a request into a Config. It is a pure function; the
// descriptor is only written to disk by WriteFile.
func Build(req Request) (Config, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Config{}, pm2.ErrInvalid("process name is required")
	}
	if !SafeName(name) {
		return Config{}, pm2.ErrInvalid(fmt.Sprintf("invalid process name %q: allowed [A-Za-z0-9._-], no '..' or path separators", name))
	}
	script := strings.TrimSpace(req.Script)
	if script == "" {
		return Config{}, pm2.ErrInvalid("script path is required")
	}
	interp := strings.TrimSpace(req.Interpreter)
	if interp == "" {
		interp = interpreterByExt[strings.ToLower(filepath.Ext(script))]
	}
	instances := req.Instances
	if instances < 1 {
		instances = 1
	}
	return Config{
		Name:        name,
		Script:      script,
		Interpreter: interp,
		Args:        append([]string(nil), req.Args...),
		Env:         copyEnv(req.Env),
		Cwd:         req.Cwd,
		Instances:   instances,
		AutoRestart: req.AutoRestart,
		MaxMemory:   req.MaxMemory,
	}, nil
}

// SafeName validates names used in filenames and pm2 arguments.
// Adapted guard: letters, digits, '.', '_', '-' only, no "..".
func SafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// app is the wire form of one entry in a pm2 ecosystem file.
type app struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Interpreter string            `json:"interpreter,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Instances   int               `json:"instances"`
	AutoRestart bool              `json:"autorestart"`
	MaxMemory   string            `json:"max_memory_restart,omitempty"`
}

// Render produces the ecosystem JSON pm2 consumes via `pm2 start <file>`.
func (c Config) Render() ([]byte, error) {
	doc := struct {
		Apps []app `json:"apps"`
	}{Apps: []app{{
		Name:        c.Name,
		Script:      c.Script,
		Interpreter: c.Interpreter,
		Args:        c.Args,
		Env:         c.Env,
		Cwd:         c.Cwd,
		Instances:   c.Instances,
		AutoRestart: c.AutoRestart,
		MaxMemory:   c.MaxMemory,
	}}}
	return json.MarshalIndent(doc, "", "  ")
}

// Path returns the descriptor location for name under dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".config.json")
}

// WriteFile renders the descriptor into dir and returns its path.
func (c Config) WriteFile(dir string) (string, error) {
	b, err := c.Render()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	p := Path(dir, c.Name)
	if err := os.WriteFile(p, b, 0o600); err != nil {
		return "", err
	}
	return p, nil
}

// Remove deletes the on-disk descriptor for name if present.
func Remove(dir, name string) error {
	err := os.Remove(Path(dir, name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func copyEnv(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
