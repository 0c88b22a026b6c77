package config

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/courseforge/internal/build"
	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/deps"
	"github.com/joescharf/courseforge/internal/envcheck"
	"github.com/joescharf/courseforge/internal/inventory"
)

// Defaults for the LLM backend: an OpenAI-compatible Zhipu BigModel endpoint.
const (
	DefaultProvider = "openai"
	DefaultBaseURL  = "https://open.bigmodel.cn/api/paas/v4"
	DefaultModel    = "glm-4-flash"
)

// SetDefaults registers every default on v. configDir is the state directory
// (normally ~/.config/cf) and home the user's home directory.
func SetDefaults(v *viper.Viper, configDir, home string) {
	v.SetDefault("state_dir", configDir)
	v.SetDefault("db_path", filepath.Join(configDir, "cf.db"))

	v.SetDefault("ssh.timeout", 30*time.Second)
	v.SetDefault("ssh.charset", "gbk")
	v.SetDefault("ssh.known_hosts", "")

	v.SetDefault("deploy.local_root", ".")
	v.SetDefault("deploy.excludes", inventory.DefaultExcludes)
	v.SetDefault("deploy.required", deps.DefaultRequired)
	v.SetDefault("deploy.mirror", deps.DefaultMirror)
	v.SetDefault("deploy.python_prefix", envcheck.DefaultPythonPrefix)
	v.SetDefault("deploy.confirm_stages", false)
	v.SetDefault("deploy.lock_path", filepath.Join(configDir, "deploy.lock"))

	app := build.DefaultApp()
	v.SetDefault("app.name", app.Name)
	v.SetDefault("app.entry_point", app.EntryPoint)
	v.SetDefault("app.win_icon", app.WinIcon)
	v.SetDefault("app.mac_icon", app.MacIcon)
	v.SetDefault("app.bundle_id", app.BundleID)
	v.SetDefault("app.exclude_modules", app.ExcludeModules)

	v.SetDefault("local.shell", build.DefaultShell)
	v.SetDefault("local.shell_rc", build.DefaultShellRC)
	v.SetDefault("local.conda_env", "pro")

	v.SetDefault("llm.provider", DefaultProvider)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", DefaultBaseURL)
	v.SetDefault("llm.model", DefaultModel)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.retry_delay", 2*time.Second)

	v.SetDefault("course.base_dir", course.DefaultBaseDir(runtime.GOOS, home))
	v.SetDefault("course.max_history", course.DefaultMaxHistoryPairs)

	v.SetDefault("serve.port", 8730)
	v.SetDefault("serve.log_size", 100)
}
