package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/courseforge/internal/inventory"
)

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	for _, id := range c.MachineIDs() {
		m := c.Machines[id]
		var missing []string
		if strings.TrimSpace(m.Host) == "" {
			missing = append(missing, "host")
		}
		if strings.TrimSpace(m.Username) == "" {
			missing = append(missing, "username")
		}
		if strings.TrimSpace(m.RemoteRoot) == "" {
			missing = append(missing, "remote_root")
		}
		if strings.TrimSpace(m.CondaPath) == "" {
			missing = append(missing, "conda_path")
		}
		if strings.TrimSpace(m.CondaEnv) == "" {
			missing = append(missing, "conda_env")
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("machines.%s: missing %s", id, strings.Join(missing, ", ")))
		}
		if m.Port < 0 || m.Port > 65535 {
			errs = append(errs, fmt.Errorf("machines.%s: port %d out of range", id, m.Port))
		}
	}
	if _, err := inventory.NewRules(c.Deploy.Excludes); err != nil {
		errs = append(errs, fmt.Errorf("deploy.excludes: %w", err))
	}
	switch c.LLM.Provider {
	case "", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q (want anthropic or openai)", c.LLM.Provider))
	}
	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("llm.max_attempts must be at least 1"))
	}
	if c.Course.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("course.max_history must not be negative"))
	}
	if c.Serve.LogSize < 1 {
		errs = append(errs, fmt.Errorf("serve.log_size must be at least 1"))
	}
	return errors.Join(errs...)
}
