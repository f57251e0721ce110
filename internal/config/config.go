package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	SMSURL   string `mapstructure:"SMS_SENDER_URL"`
	EmailURL string `mapstructure:"EMAIL_SENDER_URL"`
	PushURL  string `mapstructure:"PUSH_SENDER_URL"`

	HighThreshold    float64 `mapstructure:"PRIORITY_HIGH_THRESHOLD"`
	UrgentThreshold  float64 `mapstructure:"PRIORITY_URGENT_THRESHOLD"`
	WeightWait       float64 `mapstructure:"PRIORITY_WEIGHT_WAIT"`
	WeightTier       float64 `mapstructure:"PRIORITY_WEIGHT_TIER"`
	WeightRevenue    float64 `mapstructure:"PRIORITY_WEIGHT_REVENUE"`
	WeightComplexity float64 `mapstructure:"PRIORITY_WEIGHT_COMPLEXITY"`
	RevenueMax       float64 `mapstructure:"PRIORITY_REVENUE_MAX"`

	TargetCompletionRate float64 `mapstructure:"TARGET_COMPLETION_RATE"`
	UtilizationSpread    float64 `mapstructure:"UTILIZATION_SPREAD"`
	PeakVolumeFactor     float64 `mapstructure:"PEAK_VOLUME_FACTOR"`
	HistoryPageSize      int     `mapstructure:"HISTORY_PAGE_SIZE"`

	NotifyBatchSize int `mapstructure:"NOTIFY_BATCH_SIZE"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("PRIORITY_HIGH_THRESHOLD", 50.0)
	v.SetDefault("PRIORITY_URGENT_THRESHOLD", 75.0)
	v.SetDefault("PRIORITY_WEIGHT_WAIT", 0.4)
	v.SetDefault("PRIORITY_WEIGHT_TIER", 0.3)
	v.SetDefault("PRIORITY_WEIGHT_REVENUE", 0.2)
	v.SetDefault("PRIORITY_WEIGHT_COMPLEXITY", 0.1)
	v.SetDefault("PRIORITY_REVENUE_MAX", 500.0)

	v.SetDefault("TARGET_COMPLETION_RATE", 0.85)
	v.SetDefault("UTILIZATION_SPREAD", 0.25)
	v.SetDefault("PEAK_VOLUME_FACTOR", 2.0)
	v.SetDefault("HISTORY_PAGE_SIZE", 500)

	v.SetDefault("NOTIFY_BATCH_SIZE", 25)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
