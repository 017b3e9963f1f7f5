package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
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
	return filepath.Join(home, ".config", "scarab"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage scarab configuration.

Running bare 'scarab config' is the same as 'scarab config show'.`,
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
const configTemplate = `# scarab configuration
# See: scarab config show (for effective values and sources)

# State/data directory (default: ~/.config/scarab)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/scarab/scarab.db)
# db_path: {{ .DBPath }}

# HTTP port for the bounty server (default: 8080)
# port: {{ .Port }}

# GitHub
github:
  # Webhook secret for signature verification. Leave empty to accept
  # unsigned deliveries (not recommended outside local testing).
  webhook_secret: "{{ .WebhookSecret }}"

# Judge settings
anthropic:
  api_key: "{{ .AnthropicAPIKey }}"
  model: "{{ .AnthropicModel }}"

# Bounty amounts per severity, in the payout currency
bounty:
  low: "{{ .BountyLow }}"
  medium: "{{ .BountyMedium }}"
  high: "{{ .BountyHigh }}"
  currency: "{{ .BountyCurrency }}"

# Payment rail
payout:
  # Base URL of the rail's HTTP API. Settlement fails when unset.
  base_url: "{{ .PayoutBaseURL }}"
  api_key: "{{ .PayoutAPIKey }}"
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	Port            int
	WebhookSecret   string
	AnthropicAPIKey string
	AnthropicModel  string
	BountyLow       string
	BountyMedium    string
	BountyHigh      string
	BountyCurrency  string
	PayoutBaseURL   string
	PayoutAPIKey    string
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
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		Port:            viper.GetInt("port"),
		WebhookSecret:   viper.GetString("github.webhook_secret"),
		AnthropicAPIKey: viper.GetString("anthropic.api_key"),
		AnthropicModel:  viper.GetString("anthropic.model"),
		BountyLow:       viper.GetString("bounty.low"),
		BountyMedium:    viper.GetString("bounty.medium"),
		BountyHigh:      viper.GetString("bounty.high"),
		BountyCurrency:  viper.GetString("bounty.currency"),
		PayoutBaseURL:   viper.GetString("payout.base_url"),
		PayoutAPIKey:    viper.GetString("payout.api_key"),
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
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "SCARAB_STATE_DIR"},
	{Key: "db_path", EnvVar: "SCARAB_DB_PATH"},
	{Key: "port", EnvVar: "SCARAB_PORT"},
	{Key: "github.webhook_secret", EnvVar: "SCARAB_GITHUB_WEBHOOK_SECRET"},
	{Key: "anthropic.api_key", EnvVar: "SCARAB_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "SCARAB_ANTHROPIC_MODEL"},
	{Key: "judge.timeout_seconds", EnvVar: "SCARAB_JUDGE_TIMEOUT_SECONDS"},
	{Key: "bounty.low", EnvVar: "SCARAB_BOUNTY_LOW"},
	{Key: "bounty.medium", EnvVar: "SCARAB_BOUNTY_MEDIUM"},
	{Key: "bounty.high", EnvVar: "SCARAB_BOUNTY_HIGH"},
	{Key: "bounty.currency", EnvVar: "SCARAB_BOUNTY_CURRENCY"},
	{Key: "payout.base_url", EnvVar: "SCARAB_PAYOUT_BASE_URL"},
	{Key: "payout.api_key", EnvVar: "SCARAB_PAYOUT_API_KEY"},
	{Key: "payout.timeout_seconds", EnvVar: "SCARAB_PAYOUT_TIMEOUT_SECONDS"},
	{Key: "notify.timeout_seconds", EnvVar: "SCARAB_NOTIFY_TIMEOUT_SECONDS"},
	{Key: "pipeline.workers", EnvVar: "SCARAB_PIPELINE_WORKERS"},
	{Key: "pipeline.queue_size", EnvVar: "SCARAB_PIPELINE_QUEUE_SIZE"},
	{Key: "dedupe.threshold", EnvVar: "SCARAB_DEDUPE_THRESHOLD"},
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
		if k.Key == "github.webhook_secret" || k.Key == "anthropic.api_key" || k.Key == "payout.api_key" {
			if s, ok := val.(string); ok && s != "" {
				val = "(set)"
			}
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
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
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'scarab config init' first)", cfgPath)
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
