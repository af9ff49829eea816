package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "tender-scout"
)

type Config struct {
	// DataDir holds run and report artifacts. The SQLite state database
	// lives under it unless Database is set explicitly.
	DataDir     string `mapstructure:"data-dir"`
	Database    string `mapstructure:"database"`
	ClientsDir  string `mapstructure:"clients-dir"`
	MaxDaysBack int    `mapstructure:"max-days-back"`

	Source *SourceConfig `mapstructure:"source"`
	AI     *AIConfig     `mapstructure:"ai"`
}

type SourceConfig struct {
	URL              string `mapstructure:"url"`
	APIKeyFile       string `mapstructure:"api-key-file"`
	StatusURL        string `mapstructure:"status-url"`
	StatusTicketFile string `mapstructure:"status-ticket-file"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Workers  int           `mapstructure:"workers"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile      string `mapstructure:"api-key-file"`
	Model           string `mapstructure:"model"`
	MaxLogLength    int    `mapstructure:"max-log-length"`
	UseProfileCache bool   `mapstructure:"use-profile-cache"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "tender-scout mirrors public tenders, screens them per client and tracks the active ones",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("source.api-key-file", "SOURCE_API_KEY_FILE"); err != nil {
		log.Fatalf("binding SOURCE_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is tender-scout.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// The version command works without configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config != nil {
		if config.DataDir == "" {
			config.DataDir = "./data"
		}
		if config.ClientsDir == "" {
			config.ClientsDir = "./clients"
		}
	}

	return config, nil
}
