package main

import (
	"chat-relay/client"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const password = "Load-test-passw0rd!"

// stats of one simulated participant.
type stats struct {
	mu        sync.Mutex
	sent      int
	failed    int
	received  int
	latencies []time.Duration
	attempts  int
}

func (s *stats) onMessage(message domain.Message) {
	parts := strings.Split(message.Content, "|")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	if len(parts) == 4 && parts[0] == "lt" {
		if nanos, err := strconv.ParseInt(parts[3], 10, 64); err == nil {
			s.latencies = append(s.latencies, time.Since(time.Unix(0, nanos)))
		}
	}
}

// Floods one room with N participants sending M messages each, then prints
// what every participant received.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Relay HTTP address")
	participants := flag.Int("clients", 10, "Number of participants")
	messages := flag.Int("messages", 50, "Messages sent by each participant")
	interval := flag.Duration("interval", 20*time.Millisecond, "Delay between two sends of a participant")
	settle := flag.Duration("settle", 2*time.Second, "Time left for the last messages to arrive")
	logLevel := flag.String("log", "WARN", "Log level")
	flag.Parse()

	log := logs.GetLoggerFromString(*logLevel)
	if err := run(log, *baseURL, *participants, *messages, *interval, *settle); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, baseURL string, participants, messages int, interval, settle time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rest := newAPI(baseURL)

	// 1. Accounts and room
	accounts := make([]account, participants)
	for i := range accounts {
		acc, err := rest.signUp(ctx, fmt.Sprintf("lt-%s@relay.test", uuid.NewString()[:8]), password)
		if err != nil {
			return fmt.Errorf("sign up: %w", err)
		}
		accounts[i] = acc
	}
	roomID, err := rest.createRoom(ctx, accounts[0], "loadtest-"+uuid.NewString()[:8])
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	for _, acc := range accounts[1:] {
		if err = rest.addMember(ctx, accounts[0], roomID, acc.ID); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
	}
	color.Cyan.Printf("Room %d with %d participants, %d messages each\n", roomID, participants, messages)

	// 2. Participants
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http")
	results := make([]*stats, participants)
	var running, sending sync.WaitGroup
	start := time.Now()
	for i, acc := range accounts {
		s := &stats{}
		results[i] = s
		c := client.New(log.With("participant", i), client.Config{
			BaseURL:         wsURL,
			Token:           acc.Token,
			RoomID:          domain.RoomID(roomID),
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		})
		running.Add(1)
		go func() {
			defer running.Done()
			if err := c.Run(ctx, client.Handler{OnMessage: s.onMessage}); err != nil {
				log.Warn("Participant stopped", "participant", i, "error", err)
			}
			s.mu.Lock()
			s.attempts = c.Attempts()
			s.mu.Unlock()
		}()
		sending.Add(1)
		go func() {
			defer sending.Done()
			send(ctx, c, s, i, messages, interval)
		}()
	}

	sending.Wait()
	time.Sleep(settle)
	cancel()
	running.Wait()

	report(results, participants*messages, time.Since(start))
	return nil
}

func send(ctx context.Context, c *client.Client, s *stats, participant, messages int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for seq := 0; seq < messages; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		content := fmt.Sprintf("lt|%d|%d|%d", participant, seq, time.Now().UnixNano())
		err := c.Send(content)
		if errors.Is(err, errors.ErrNotConnected) {
			// Not connected yet, the same message goes on the next tick
			continue
		}
		s.mu.Lock()
		if err != nil {
			s.failed++
		} else {
			s.sent++
		}
		s.mu.Unlock()
		seq++
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func report(results []*stats, expected int, elapsed time.Duration) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Participant", "Sent", "Failed", "Received", "Expected", "P50", "P99", "Connections"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	complete := 0
	for i, s := range results {
		s.mu.Lock()
		latencies := slices.Clone(s.latencies)
		slices.Sort(latencies)
		if s.received >= expected {
			complete++
		}
		table.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(s.sent),
			strconv.Itoa(s.failed),
			strconv.Itoa(s.received),
			strconv.Itoa(expected),
			percentile(latencies, 0.50).Round(time.Microsecond).String(),
			percentile(latencies, 0.99).Round(time.Microsecond).String(),
			strconv.Itoa(s.attempts),
		})
		s.mu.Unlock()
	}
	table.Render()

	total := lo.SumBy(results, func(item *stats) int { return item.received })
	fmt.Printf("\n%d deliveries in %s (%.0f/s)\n", total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	if complete == len(results) {
		color.Green.Printf("Every participant received the %d messages\n", expected)
		return
	}
	color.Red.Printf("%d/%d participants missed messages\n", len(results)-complete, len(results))
}
