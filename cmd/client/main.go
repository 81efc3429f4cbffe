package main

import (
	"bufio"
	"chat-relay/client"
	"chat-relay/domain"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	RelayURL        string        `env:"RELAY_URL,default=ws://localhost:8080"`
	Token           string        `env:"TOKEN,required=true"`
	RoomID          int64         `env:"ROOM_ID,required=true"`
	LogLevel        string        `env:"LOG_LEVEL,default=WARN"`
	InitialInterval time.Duration `env:"RECONNECT_INITIAL_INTERVAL,default=500ms"`
	MaxInterval     time.Duration `env:"RECONNECT_MAX_INTERVAL,default=30s"`
	MaxElapsedTime  time.Duration `env:"RECONNECT_MAX_ELAPSED_TIME,default=0s"`
	StableAfter     time.Duration `env:"RECONNECT_STABLE_AFTER,default=10s"`
}

// A terminal chat: every stdin line is sent to the room, every message of
// the room is printed.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(log, client.Config{
		BaseURL:         config.RelayURL,
		Token:           config.Token,
		RoomID:          domain.RoomID(config.RoomID),
		InitialInterval: config.InitialInterval,
		MaxInterval:     config.MaxInterval,
		MaxElapsedTime:  config.MaxElapsedTime,
		StableAfter:     config.StableAfter,
	})

	go readInput(ctx, c)

	return c.Run(ctx, client.Handler{
		OnMessage: func(message domain.Message) {
			fmt.Printf("%s %s %s\n",
				color.Gray.Sprint(message.CreatedAt.Local().Format(time.TimeOnly)),
				color.Cyan.Sprint(message.UserID),
				message.Content)
		},
		OnError: func(frame client.ErrorFrame) {
			color.Red.Printf("! %s: %s\n", frame.Code, frame.Detail)
		},
	})
}

func readInput(ctx context.Context, c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.Send(line); err != nil {
			color.Yellow.Printf("not sent: %v\n", err)
		}
	}
}
