package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Provider holds the client settings for one AI summarization provider.
type Provider struct {
	APIKey      string  `mapstructure:"API_KEY"`
	BaseURL     string  `mapstructure:"BASE_URL"`
	Model       string  `mapstructure:"MODEL"`
	Temperature float64 `mapstructure:"TEMPERATURE"`
}

type Config struct {
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AccessCode string `mapstructure:"ACCESS_CODE"`

	DataDir  string `mapstructure:"DATA_DIR"`
	LogFile  string `mapstructure:"LOG_FILE"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL"`
	ErrorBackoff    time.Duration `mapstructure:"ERROR_BACKOFF"`
	Retention       time.Duration `mapstructure:"RETENTION"`
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	// Artifacts smaller than this are treated as corrupt partial writes and
	// never reused as cache hits.
	MinArtifactSize  int64 `mapstructure:"MIN_ARTIFACT_SIZE"`
	ThrottleFreeDisk int64 `mapstructure:"THROTTLE_FREEDISK"`

	YTDLPBin        string `mapstructure:"YTDLP_BIN"`
	DownloadRetries int    `mapstructure:"DOWNLOAD_RETRIES"`

	WhisperBin   string `mapstructure:"WHISPER_BIN"`
	WhisperModel string `mapstructure:"WHISPER_MODEL"`
	Language     string `mapstructure:"LANGUAGE"`

	PreferredLanguages []string `mapstructure:"PREFERRED_LANGUAGES"`
	SubtitleThreshold  int      `mapstructure:"SUBTITLE_THRESHOLD"`

	AIProvider      string              `mapstructure:"AI_PROVIDER"`
	AIFallbackOrder []string            `mapstructure:"AI_FALLBACK_ORDER"`
	AIMaxAttempts   int                 `mapstructure:"AI_MAX_ATTEMPTS"`
	AIProviders     map[string]Provider `mapstructure:"AI_PROVIDERS"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `mapstructure:"TELEGRAM_CHAT_ID"`
}

// Artifact directories, all children of DataDir. Created on demand by the
// components that write into them.

func (c *Config) TaskDir() string     { return filepath.Join(c.DataDir, "tasks") }
func (c *Config) DownloadDir() string { return filepath.Join(c.DataDir, "downloads") }
func (c *Config) SubtitleDir() string { return filepath.Join(c.DataDir, "subtitles") }
func (c *Config) SummaryDir() string  { return filepath.Join(c.DataDir, "summaries") }
func (c *Config) UploadDir() string   { return filepath.Join(c.DataDir, "uploads") }

// stringToDurationHookFunc parses Go duration strings from config values.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings ("200MB") into int64s.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("ACCESS_CODE", "")

	vp.SetDefault("DATA_DIR", "data")
	vp.SetDefault("LOG_FILE", "tubescribe.log")
	vp.SetDefault("LOG_LEVEL", "info")

	vp.SetDefault("POLL_INTERVAL", "1s")
	vp.SetDefault("ERROR_BACKOFF", "5s")
	vp.SetDefault("RETENTION", "168h")
	vp.SetDefault("CLEANUP_INTERVAL", "1h")

	vp.SetDefault("MIN_ARTIFACT_SIZE", "500B")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")

	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("DOWNLOAD_RETRIES", 3)

	vp.SetDefault("WHISPER_BIN", "whisper-ctranslate2")
	vp.SetDefault("WHISPER_MODEL", "large-v3")
	vp.SetDefault("LANGUAGE", "zh")

	vp.SetDefault("PREFERRED_LANGUAGES", []string{"zh-TW", "zh-CN", "zh", "en", "ja"})
	vp.SetDefault("SUBTITLE_THRESHOLD", 7)

	vp.SetDefault("AI_PROVIDER", "openai")
	vp.SetDefault("AI_FALLBACK_ORDER", []string{"openai", "anthropic", "groq", "ollama"})
	vp.SetDefault("AI_MAX_ATTEMPTS", 3)
	vp.SetDefault("AI_PROVIDERS.openai.MODEL", "gpt-4o-mini")
	vp.SetDefault("AI_PROVIDERS.openai.TEMPERATURE", 0.7)

	vp.SetConfigName("tubescribe_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/tubescribe/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("TUBESCRIBE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
