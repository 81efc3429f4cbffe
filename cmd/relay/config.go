package main

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	StoreBackend   string `env:"STORE_BACKEND,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	LimitMessages  *int   `env:"LIMIT_MESSAGES"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=60m"`

	OutboundQueueSize   int           `env:"OUTBOUND_QUEUE_SIZE,default=256"`
	MaxContentLength    int           `env:"MAX_CONTENT_LENGTH,default=4096"`
	PingInterval        time.Duration `env:"PING_INTERVAL,default=54s"`
	PongWait            time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait           time.Duration `env:"WRITE_WAIT,default=10s"`
	RateLimitBurst      int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitRefill     time.Duration `env:"RATE_LIMIT_REFILL,default=1s"`
	EchoToSender        bool          `env:"ECHO_TO_SENDER,default=true"`
	LegacyUnwrapContent bool          `env:"LEGACY_UNWRAP_CONTENT,default=false"`
	AllowedOrigins      string        `env:"ALLOWED_ORIGINS,default=*"`

	CensoredDir     string `env:"CENSORED_DIR"`
	CensorCharacter string `env:"CENSOR_CHARACTER,default=*"`

	ReportInterval  time.Duration `env:"REPORT_INTERVAL,default=30s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func (c Config) origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c Config) censorRune() rune {
	r, _ := utf8.DecodeRuneInString(c.CensorCharacter)
	if r == utf8.RuneError {
		return '*'
	}
	return r
}
