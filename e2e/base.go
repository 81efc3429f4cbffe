package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

const password = "E2e-relay-passw0rd!"

// BaseRelaySuite drives a running relay through its public surface.
type BaseRelaySuite struct {
	suite.Suite
	Config Config
	http   *http.Client
}

type Account struct {
	ID    string
	Email string
	Token string
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" {
		s.T().Skip("RELAY_ADDR not set")
	}
	s.http = &http.Client{Timeout: 10 * time.Second}
}

// Step prints a colorized header for a scenario step in logs
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Call sends a JSON request and decodes the JSON answer in out when given.
// It returns the HTTP status.
func (s *BaseRelaySuite) Call(method, path, token string, body, out any) int {
	var payload bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&payload).Encode(body))
	}
	request, err := http.NewRequest(method, s.Config.RelayAddr+path, &payload)
	s.Require().NoError(err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	response, err := s.http.Do(request)
	s.Require().NoError(err, "Failed to reach the relay at "+s.Config.RelayAddr)
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	s.Require().NoError(err)

	logLine := fmt.Sprintf("HTTP %s %s [%d] in %v", method, path, response.StatusCode, time.Since(start))
	if s.Config.DebugJSON {
		logLine += "\n" + string(raw)
	}
	s.T().Log(logLine)

	if out != nil && len(raw) > 0 {
		s.Require().NoError(json.Unmarshal(raw, out))
	}
	return response.StatusCode
}

func (s *BaseRelaySuite) SignUp() Account {
	email := fmt.Sprintf("e2e-%s@relay.test", uuid.NewString()[:8])
	var token struct {
		AccessToken string `json:"access_token"`
	}
	status := s.Call(http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": password}, &token)
	s.Require().Equal(http.StatusCreated, status)

	var me struct {
		ID string `json:"id"`
	}
	s.Require().Equal(http.StatusOK, s.Call(http.MethodGet, "/auth/me", token.AccessToken, nil, &me))
	return Account{ID: me.ID, Email: email, Token: token.AccessToken}
}

// Dial opens a websocket on a room, with an optional cursor.
func (s *BaseRelaySuite) Dial(token string, roomID int64, after string) *websocket.Conn {
	target := fmt.Sprintf("ws%s/ws/rooms/%d?token=%s", strings.TrimPrefix(s.Config.RelayAddr, "http"), roomID, token)
	if after != "" {
		target += "&after=" + after
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	s.Require().NoError(err)
	return conn
}

// Next reads the next frame of a websocket into out.
func (s *BaseRelaySuite) Next(conn *websocket.Conn, out any) {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	s.Require().NoError(conn.ReadJSON(out))
}

// CloseCode reads until the relay closes the connection and returns the code.
func (s *BaseRelaySuite) CloseCode(conn *websocket.Conn) int {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			s.Require().ErrorAs(err, &closeErr)
			return closeErr.Code
		}
	}
}
