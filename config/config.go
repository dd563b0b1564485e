package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Dotenv string `mapstructure:"dotenv"`
	Server struct {
		HTTPPort        string        `mapstructure:"HTTPPort"`
		Timeout         time.Duration `mapstructure:"HTTPTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		RateLimit       int           `mapstructure:"rateLimit"`
	} `mapstructure:"server"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Cache struct {
		SessionTTL      time.Duration `mapstructure:"sessionTTL"`
		PlaceTTL        time.Duration `mapstructure:"placeTTL"`
		LockTTL         time.Duration `mapstructure:"lockTTL"`
		CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
		EventBuffer     int           `mapstructure:"eventBuffer"`
		SweepInterval   time.Duration `mapstructure:"sweepInterval"`
	} `mapstructure:"cache"`
	Planner struct {
		HistoryWindow  int     `mapstructure:"historyWindow"`
		RecommendCount int     `mapstructure:"recommendCount"`
		MinViewSeconds float64 `mapstructure:"minViewSeconds"`
	} `mapstructure:"planner"`
	Preference struct {
		Steepness float64 `mapstructure:"steepness"`
	} `mapstructure:"preference"`
	Enrichment struct {
		MaxSubItems int `mapstructure:"maxSubItems"`
		Workers     int `mapstructure:"workers"`
	} `mapstructure:"enrichment"`
	Itinerary struct {
		WalkLimit   time.Duration `mapstructure:"walkLimit"`
		Parallelism int           `mapstructure:"parallelism"`
	} `mapstructure:"itinerary"`
	Survey struct {
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"survey"`
	LLM struct {
		Model       string  `mapstructure:"model"`
		Temperature float32 `mapstructure:"temperature"`
		APIKey      string  `mapstructure:"apiKey"`
	} `mapstructure:"llm"`
	Maps struct {
		APIKey   string `mapstructure:"apiKey"`
		Language string `mapstructure:"language"`
	} `mapstructure:"maps"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")
	v.AddConfigPath("/usr/local/bin")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}

	// secrets never live in the file
	if key := os.Getenv("GOOGLE_GEMINI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if key := os.Getenv("GOOGLE_MAPS_API_KEY"); key != "" {
		config.Maps.APIKey = key
	}
	fmt.Println("Successfully loaded app configs...")
	return config, nil
}
