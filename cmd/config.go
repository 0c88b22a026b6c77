package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cf"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage cf configuration.

Running bare 'cf config' is the same as 'cf config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# cf configuration
# See: cf config show (for effective values and sources)

# State/data directory (default: ~/.config/cf)
# state_dir: {{ .StateDir }}

# SQLite run and course history (default: ~/.config/cf/cf.db)
# db_path: {{ .DBPath }}

# Windows build machines, keyed by the number shown in the deploy menu.
# Prefer password_env over an inline password.
machines:
  # "1":
  #   name: win-build-01
  #   host: 192.168.1.20
  #   port: 22
  #   username: builder
  #   password_env: CF_WIN01_PASSWORD
  #   remote_root: D:\iCode\CourseForgeMini
  #   conda_path: C:\ProgramData\anaconda3
  #   conda_env: pro

ssh:
  # Dial and handshake timeout
  timeout: {{ .SSHTimeout }}
  # Charset of remote console output
  charset: "{{ .SSHCharset }}"
  # known_hosts file; empty accepts any host key
  known_hosts: '{{ .SSHKnownHosts }}'

deploy:
  # Local project directory uploaded to every machine
  local_root: '{{ .LocalRoot }}'
  # pip index used to install missing packages
  mirror: "{{ .Mirror }}"
  # Expected start of "python --version" on the build machine
  python_prefix: "{{ .PythonPrefix }}"
  # Ask before each next stage (default: false)
  confirm_stages: {{ .ConfirmStages }}

app:
  name: "{{ .AppName }}"
  bundle_id: "{{ .BundleID }}"

local:
  # conda env activated for the macOS build
  conda_env: "{{ .LocalCondaEnv }}"

llm:
  # anthropic or openai (any OpenAI-compatible endpoint)
  provider: "{{ .LLMProvider }}"
  base_url: "{{ .LLMBaseURL }}"
  model: "{{ .LLMModel }}"
  # Set here or via CF_LLM_API_KEY
  api_key: ""
  max_attempts: {{ .LLMMaxAttempts }}
  # Sampling knobs are omitted from requests unless set
  # temperature: 0.7
  # top_p: 0.9

course:
  # Where generated courses are written
  base_dir: '{{ .CourseBaseDir }}'

serve:
  port: {{ .ServePort }}
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	SSHTimeout     string
	SSHCharset     string
	SSHKnownHosts  string
	LocalRoot      string
	Mirror         string
	PythonPrefix   string
	ConfirmStages  bool
	AppName        string
	BundleID       string
	LocalCondaEnv  string
	LLMProvider    string
	LLMBaseURL     string
	LLMModel       string
	LLMMaxAttempts int
	CourseBaseDir  string
	ServePort      int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		SSHTimeout:     viper.GetDuration("ssh.timeout").String(),
		SSHCharset:     viper.GetString("ssh.charset"),
		SSHKnownHosts:  viper.GetString("ssh.known_hosts"),
		LocalRoot:      viper.GetString("deploy.local_root"),
		Mirror:         viper.GetString("deploy.mirror"),
		PythonPrefix:   viper.GetString("deploy.python_prefix"),
		ConfirmStages:  viper.GetBool("deploy.confirm_stages"),
		AppName:        viper.GetString("app.name"),
		BundleID:       viper.GetString("app.bundle_id"),
		LocalCondaEnv:  viper.GetString("local.conda_env"),
		LLMProvider:    viper.GetString("llm.provider"),
		LLMBaseURL:     viper.GetString("llm.base_url"),
		LLMModel:       viper.GetString("llm.model"),
		LLMMaxAttempts: viper.GetInt("llm.max_attempts"),
		CourseBaseDir:  viper.GetString("course.base_dir"),
		ServePort:      viper.GetInt("serve.port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CF_STATE_DIR"},
	{Key: "db_path", EnvVar: "CF_DB_PATH"},
	{Key: "ssh.timeout", EnvVar: "CF_SSH_TIMEOUT"},
	{Key: "ssh.charset", EnvVar: "CF_SSH_CHARSET"},
	{Key: "ssh.known_hosts", EnvVar: "CF_SSH_KNOWN_HOSTS"},
	{Key: "deploy.local_root", EnvVar: "CF_DEPLOY_LOCAL_ROOT"},
	{Key: "deploy.mirror", EnvVar: "CF_DEPLOY_MIRROR"},
	{Key: "deploy.python_prefix", EnvVar: "CF_DEPLOY_PYTHON_PREFIX"},
	{Key: "deploy.confirm_stages", EnvVar: "CF_DEPLOY_CONFIRM_STAGES"},
	{Key: "deploy.lock_path", EnvVar: "CF_DEPLOY_LOCK_PATH"},
	{Key: "app.name", EnvVar: "CF_APP_NAME"},
	{Key: "app.bundle_id", EnvVar: "CF_APP_BUNDLE_ID"},
	{Key: "local.conda_env", EnvVar: "CF_LOCAL_CONDA_ENV"},
	{Key: "llm.provider", EnvVar: "CF_LLM_PROVIDER"},
	{Key: "llm.base_url", EnvVar: "CF_LLM_BASE_URL"},
	{Key: "llm.model", EnvVar: "CF_LLM_MODEL"},
	{Key: "llm.api_key", EnvVar: "CF_LLM_API_KEY", Secret: true},
	{Key: "llm.max_attempts", EnvVar: "CF_LLM_MAX_ATTEMPTS"},
	{Key: "llm.retry_delay", EnvVar: "CF_LLM_RETRY_DELAY"},
	{Key: "course.base_dir", EnvVar: "CF_COURSE_BASE_DIR"},
	{Key: "course.max_history", EnvVar: "CF_COURSE_MAX_HISTORY"},
	{Key: "serve.port", EnvVar: "CF_SERVE_PORT"},
	{Key: "serve.log_size", EnvVar: "CF_SERVE_LOG_SIZE"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	machines := machineKeys(fileValues)
	fmt.Fprintln(ui.Out)
	if len(machines) == 0 {
		ui.Info("Machines: none configured (see 'cf config init')")
	} else {
		ui.Info("Machines: %s (see 'cf machine list')", strings.Join(machines, ", "))
	}

	return nil
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	return "********"
}

// machineKeys returns the registry ids present in the config file.
func machineKeys(fileValues map[string]bool) []string {
	seen := make(map[string]bool)
	for key := range fileValues {
		rest, ok := strings.CutPrefix(key, "machines.")
		if !ok {
			continue
		}
		id, _, _ := strings.Cut(rest, ".")
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'cf config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
