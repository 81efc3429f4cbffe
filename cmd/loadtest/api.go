package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// api is the small slice of the REST surface the load test needs.
type api struct {
	baseURL string
	http    *http.Client
}

func newAPI(baseURL string) *api {
	return &api{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type account struct {
	ID    string
	Token string
}

func (a *api) do(ctx context.Context, method, path, token string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}
	request, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &payload)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := a.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: %s", method, path, response.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (a *api) signUp(ctx context.Context, email, password string) (account, error) {
	var token struct {
		AccessToken string `json:"access_token"`
	}
	credentials := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/auth/register", "", credentials, &token); err != nil {
		return account{}, err
	}
	var me struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodGet, "/auth/me", token.AccessToken, nil, &me); err != nil {
		return account{}, err
	}
	return account{ID: me.ID, Token: token.AccessToken}, nil
}

func (a *api) createRoom(ctx context.Context, owner account, name string) (int64, error) {
	var room struct {
		ID int64 `json:"id"`
	}
	err := a.do(ctx, http.MethodPost, "/rooms", owner.Token, map[string]string{"name": name}, &room)
	return room.ID, err
}

func (a *api) addMember(ctx context.Context, owner account, roomID int64, userID string) error {
	path := fmt.Sprintf("/rooms/%d/members", roomID)
	return a.do(ctx, http.MethodPost, path, owner.Token, map[string]string{"user_id": userID}, nil)
}
