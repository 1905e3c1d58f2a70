package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Client calls the JSON API of the server under test.
type Client struct {
	Base string
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{Base: Addr(), HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// Do sends body as JSON and decodes the response into out when out is
// non-nil. It returns the status code.
func (c *Client) Do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, c.Base+path, &buf)
	if err != nil {
		t.Fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// User is a registered account with a live token.
type User struct {
	ID    string
	Token string
}

// Signup registers a fresh user and logs in.
func (c *Client) Signup(t *testing.T, name string) User {
	t.Helper()
	email := fmt.Sprintf("%s-%s@example.com", strings.ToLower(name), uuid.NewString()[:8])
	password := "password-" + name

	var created struct {
		ID string `json:"id"`
	}
	if code := c.Do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password,
	}, &created); code != http.StatusCreated {
		t.Fatalf("register %s: status %d", name, code)
	}

	var login struct {
		Token string `json:"token"`
	}
	if code := c.Do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, &login); code != http.StatusOK {
		t.Fatalf("login %s: status %d", name, code)
	}
	return User{ID: created.ID, Token: login.Token}
}

// WSURL is the realtime endpoint for token.
func (c *Client) WSURL(token string) string {
	return "ws" + strings.TrimPrefix(c.Base, "http") + "/ws?token=" + token
}
