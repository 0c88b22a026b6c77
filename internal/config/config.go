// Package config turns the viper key space into an explicit, validated Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/courseforge/internal/models"
)

// Machine is one registry entry as written in config.yaml.
type Machine struct {
	Name        string `mapstructure:"name"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PasswordEnv string `mapstructure:"password_env"`
	RemoteRoot  string `mapstructure:"remote_root"`
	CondaPath   string `mapstructure:"conda_path"`
	CondaEnv    string `mapstructure:"conda_env"`
}

// SSH tunes remote sessions.
type SSH struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Charset    string        `mapstructure:"charset"`
	KnownHosts string        `mapstructure:"known_hosts"`
}

// Deploy configures the remote pipeline.
type Deploy struct {
	LocalRoot     string   `mapstructure:"local_root"`
	Excludes      []string `mapstructure:"excludes"`
	Required      []string `mapstructure:"required"`
	Mirror        string   `mapstructure:"mirror"`
	PythonPrefix  string   `mapstructure:"python_prefix"`
	ConfirmStages bool     `mapstructure:"confirm_stages"`
	LockPath      string   `mapstructure:"lock_path"`
}

// App describes the packaged desktop application.
type App struct {
	Name           string   `mapstructure:"name"`
	EntryPoint     string   `mapstructure:"entry_point"`
	WinIcon        string   `mapstructure:"win_icon"`
	MacIcon        string   `mapstructure:"mac_icon"`
	BundleID       string   `mapstructure:"bundle_id"`
	ExcludeModules []string `mapstructure:"exclude_modules"`
}

// Local configures the workstation build.
type Local struct {
	Shell    string `mapstructure:"shell"`
	ShellRC  string `mapstructure:"shell_rc"`
	CondaEnv string `mapstructure:"conda_env"`
}

// LLM configures the chat backend.
type LLM struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	// Temperature and TopP are sent only when set.
	Temperature *float64      `mapstructure:"temperature"`
	TopP        *float64      `mapstructure:"top_p"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// Course configures content generation.
type Course struct {
	BaseDir    string `mapstructure:"base_dir"`
	MaxHistory int    `mapstructure:"max_history"`
}

// Serve configures the REST API.
type Serve struct {
	Port    int `mapstructure:"port"`
	LogSize int `mapstructure:"log_size"`
}

// Config is the fully resolved configuration.
type Config struct {
	StateDir string             `mapstructure:"state_dir"`
	DBPath   string             `mapstructure:"db_path"`
	Machines map[string]Machine `mapstructure:"machines"`
	SSH      SSH                `mapstructure:"ssh"`
	Deploy   Deploy             `mapstructure:"deploy"`
	App      App                `mapstructure:"app"`
	Local    Local              `mapstructure:"local"`
	LLM      LLM                `mapstructure:"llm"`
	Course   Course             `mapstructure:"course"`
	Serve    Serve              `mapstructure:"serve"`
}

// FromViper decodes v into a Config, expands ~ in paths and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StateDir = expandHome(c.StateDir)
	c.DBPath = expandHome(c.DBPath)
	c.Deploy.LocalRoot = expandHome(c.Deploy.LocalRoot)
	c.Deploy.LockPath = expandHome(c.Deploy.LockPath)
	c.SSH.KnownHosts = expandHome(c.SSH.KnownHosts)
	c.Course.BaseDir = expandHome(c.Course.BaseDir)
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// MachineIDs returns registry keys in menu order: numeric keys numerically, then the rest.
func (c *Config) MachineIDs() []string {
	ids := make([]string, 0, len(c.Machines))
	for id := range c.Machines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Machine resolves a registry entry by id.
func (c *Config) Machine(id string) (*models.Machine, error) {
	m, ok := c.Machines[id]
	if !ok {
		return nil, fmt.Errorf("unknown machine %q (have %s)", id, strings.Join(c.MachineIDs(), ", "))
	}
	return &models.Machine{
		ID:          id,
		Name:        m.Name,
		Host:        m.Host,
		Port:        m.Port,
		Username:    m.Username,
		Password:    m.Password,
		PasswordEnv: m.PasswordEnv,
		RemoteRoot:  m.RemoteRoot,
		CondaPath:   m.CondaPath,
		CondaEnv:    m.CondaEnv,
	}, nil
}

// MachineList returns every machine in menu order.
func (c *Config) MachineList() []*models.Machine {
	out := make([]*models.Machine, 0, len(c.Machines))
	for _, id := range c.MachineIDs() {
		m, _ := c.Machine(id)
		out = append(out, m)
	}
	return out
}
