package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"misinfo-twitter/src/pipeline"
)

// Stage names accepted by mode / -stage
const (
	StageBuild    = "build"
	StageExpand   = "expand"
	StageMerge    = "merge"
	StageAccounts = "accounts"
	StageAll      = "all"
	StageIngest   = "ingest"
)

var validStages = map[string]bool{
	StageBuild: true, StageExpand: true, StageMerge: true,
	StageAccounts: true, StageAll: true, StageIngest: true,
}

// defaultFilterKeywords restrict the account table when -keywords-filter is set
var defaultFilterKeywords = []string{"vaccine", "vaccination", "vaccinate", "vax"}

// Config struct for YAML config file
type Config struct {
	Mode            string `yaml:"mode"`
	TweetDir        string `yaml:"tweet_dir"`
	TablesDir       string `yaml:"tables_dir"`
	IntermediateDir string `yaml:"intermediate_dir"`
	LogDir          string `yaml:"log_dir"`
	Verbose         bool   `yaml:"verbose"`

	KeywordsFile  string `yaml:"keywords_file"`
	LowCredFile   string `yaml:"low_cred_file"`
	GazetteerFile string `yaml:"gazetteer_file"`

	StartDate      string   `yaml:"start_date"`
	EndDate        string   `yaml:"end_date"`
	TargetCountry  string   `yaml:"target_country"`
	CountryCode    string   `yaml:"country_code"`
	FilterKeywords []string `yaml:"filter_keywords"`

	ExpandWorkers      int      `yaml:"expand_workers"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_seconds"`
	ShortLinkServices  []string `yaml:"short_link_services"`
	URLCacheBackend    string   `yaml:"url_cache_backend"`
	URLCacheFile       string   `yaml:"url_cache_file"`
	RedisAddr          string   `yaml:"redis_addr"`
	RedisPassword      string   `yaml:"redis_password"`
	RedisDB            int      `yaml:"redis_db"`
	RedisKey           string   `yaml:"redis_key"`

	MQHost        string `yaml:"mq_host"`
	MQPort        int    `yaml:"mq_port"`
	MQUser        string `yaml:"mq_user"`
	MQPassword    string `yaml:"mq_password"`
	MQQueue       string `yaml:"mq_queue"`
	MQIdleSeconds int    `yaml:"mq_idle_seconds"`
}

// loadConfig loads the YAML config file into a Config struct and fills in
// defaults for optional keys.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = StageAll
	}
	if c.IntermediateDir == "" {
		c.IntermediateDir = c.TablesDir
	}
	if c.TargetCountry == "" {
		c.TargetCountry = "United States"
	}
	if c.CountryCode == "" {
		c.CountryCode = "US"
	}
	if len(c.FilterKeywords) == 0 {
		c.FilterKeywords = defaultFilterKeywords
	}
	if c.ExpandWorkers == 0 {
		c.ExpandWorkers = pipeline.DefaultExpandWorkers
	}
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = int(pipeline.DefaultHTTPTimeout / time.Second)
	}
	if len(c.ShortLinkServices) == 0 {
		c.ShortLinkServices = pipeline.DefaultShortLinkServices
	}
	if c.URLCacheBackend == "" {
		c.URLCacheBackend = "file"
	}
	if c.URLCacheFile == "" && c.IntermediateDir != "" {
		c.URLCacheFile = filepath.Join(c.IntermediateDir, "urls_expanded.gob")
	}
	if c.RedisKey == "" {
		c.RedisKey = "urls_expanded"
	}
	if c.MQUser == "" {
		c.MQUser = "guest"
		c.MQPassword = "guest"
	}
	if c.MQPort == 0 {
		c.MQPort = 5672
	}
	if c.MQQueue == "" {
		c.MQQueue = "tweet_in"
	}
	if c.MQIdleSeconds == 0 {
		c.MQIdleSeconds = 60
	}
}

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("'log_dir' must be defined in the config file and cannot be empty")
	}
	if c.TweetDir == "" {
		return fmt.Errorf("'tweet_dir' must be defined in the config file")
	}
	if c.TablesDir == "" {
		return fmt.Errorf("'tables_dir' must be defined in the config file")
	}
	if !validStages[c.Mode] {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if _, _, err := c.Window(); err != nil {
		return err
	}
	if c.ExpandWorkers < 0 {
		return fmt.Errorf("expand_workers must be positive, got %d", c.ExpandWorkers)
	}
	if c.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("http_timeout_seconds must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	switch c.URLCacheBackend {
	case "file":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("url_cache_backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown url_cache_backend %q (want file or redis)", c.URLCacheBackend)
	}
	if c.Mode == StageIngest {
		if c.MQHost == "" {
			return fmt.Errorf("ingest mode requires mq_host")
		}
		if c.MQPort <= 0 {
			return fmt.Errorf("invalid mq_port %d", c.MQPort)
		}
	}
	return nil
}

// Window parses start_date and end_date. An empty date leaves that side open.
func (c *Config) Window() (start, end time.Time, err error) {
	if c.StartDate != "" {
		if start, err = time.Parse(pipeline.DayLayout, c.StartDate); err != nil {
			return start, end, fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
		}
	}
	if c.EndDate != "" {
		if end, err = time.Parse(pipeline.DayLayout, c.EndDate); err != nil {
			return start, end, fmt.Errorf("invalid end_date %q: %w", c.EndDate, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, fmt.Errorf("end_date %s is before start_date %s", c.EndDate, c.StartDate)
	}
	return start, end, nil
}

// HTTPTimeout returns the per-request expansion timeout
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// MergedTablePath is where the merge stage writes its output
func (c *Config) MergedTablePath() string {
	return filepath.Join(c.IntermediateDir, "tweet_merged_table.csv")
}

// RabbitMQ returns the queue connection settings
func (c *Config) RabbitMQ() RabbitMQConfig {
	return RabbitMQConfig{
		Host:     c.MQHost,
		Port:     c.MQPort,
		Username: c.MQUser,
		Password: c.MQPassword,
		Queue:    c.MQQueue,
	}
}
