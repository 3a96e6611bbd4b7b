package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/nbgrade/internal/model"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nbgrade",
	Short: "nbgrade - grade Jupyter notebooks against assignment requirements",
	Long: `nbgrade evaluates a student notebook against the requirements of an
assignment document.

It compiles the assignment into a weighted rubric, retrieves the notebook
cells most relevant to each requirement, asks the semantic-evaluation
service for a judgment, and combines the judgments into a deterministic
score report.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of nbgrade.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbgrade v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.nbgrade/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("ml-url", "", "semantic-evaluation service URL")
	rootCmd.PersistentFlags().String("backend", "", "collaborator backend (http, openai)")
	rootCmd.PersistentFlags().Bool("no-cache", false, "disable the rubric/embedding cache")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("collaborator.base_url", rootCmd.PersistentFlags().Lookup("ml-url"))
	_ = viper.BindPFlag("collaborator.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("no-cache", rootCmd.PersistentFlags().Lookup("no-cache"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(filepath.Join(home, ".nbgrade"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := configureEnv(viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering defaults: %v\n", err)
	}

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// configureEnv reads NBGRADE_* variables plus the names used by earlier deployments
func configureEnv(v *viper.Viper) error {
	v.SetEnvPrefix("NBGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("collaborator.base_url", "NBGRADE_COLLABORATOR_BASE_URL", "ML_SERVICE_URL")
	_ = v.BindEnv("collaborator.api_key", "NBGRADE_COLLABORATOR_API_KEY", "OPENAI_API_KEY")

	return registerDefaults(v, model.DefaultConfig())
}

// registerDefaults makes every config key known to viper so env overrides apply on Unmarshal
func registerDefaults(v *viper.Viper, cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, val := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, full, sub)
			continue
		}
		v.SetDefault(full, val)
	}
}

// loadConfig resolves flags > env > config file > defaults into a Config
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyLegacyEnv(cfg)

	if v.GetBool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLegacyEnv honors PORT and REQUEST_TIMEOUT (milliseconds) when the
// NBGRADE_* equivalents are unset
func applyLegacyEnv(cfg *model.Config) {
	if port := os.Getenv("PORT"); port != "" && os.Getenv("NBGRADE_SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	if raw := os.Getenv("REQUEST_TIMEOUT"); raw != "" && os.Getenv("NBGRADE_COLLABORATOR_CALL_TIMEOUT") == "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			cfg.Collaborator.CallTimeout = time.Duration(ms) * time.Millisecond
		}
	}
}

// newLogger returns a text logger on stderr, at debug level when verbose
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
