package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		PlatformToken  string  `env:"TOKEN,required"`
		PlatformAPIURL string  `env:"API_URL,default=https://gateway.example.com/api/v1"`
		Moderators     []int64 `env:"MODERATORS"`
		BotUserID      int64   `env:"BOT_USER_ID"`
		LogLevel       int     `env:"LOG_LEVEL,default=2"`
		DotPath        string  `env:"DOT_PATH,default=~/.warden"`
		MetricsAddr    string  `env:"METRICS_ADDR,default=:2112"`
		WelcomeChannel string  `env:"WELCOME_CHANNEL"`
		Workers        int     `env:"WORKERS,default=8"`
		QueueDepth     int     `env:"QUEUE_DEPTH,default=1024"`
		LLM            LLM
		Moderation     Moderation
		Lifecycle      Lifecycle
		Reconcile      Reconcile
	}

	LLM struct {
		APIKey  string `env:"LLM_API_KEY,required"`
		Model   string `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type    string `env:"LLM_API_TYPE,default=openai"`
	}

	Moderation struct {
		PolicyPath    string        `env:"POLICY_PATH"`
		Policy        string        `env:"POLICY,default=5:mute:1h;10:kick;20:ban"`
		Window        time.Duration `env:"WINDOW,default=720h"`
		FlaggedEmojis []string      `env:"FLAGGED_EMOJIS,default=👎,💩"`
	}

	Lifecycle struct {
		MaxConsecutiveFailures int `env:"MAX_CONSECUTIVE_FAILURES,default=3"`
	}

	Reconcile struct {
		Interval time.Duration `env:"RECONCILE_INTERVAL,default=5m"`
		Grace    time.Duration `env:"RECONCILE_GRACE,default=10m"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("WDN_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
