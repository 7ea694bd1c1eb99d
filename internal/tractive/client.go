// Package tractive is the client for the Tractive pet-tracker cloud: a
// short-lived authentication call and a long-lived newline-delimited JSON
// event stream. Built on resty like the rest of the fleet's outbound
// HTTP clients.
package tractive

import (
	"bufio"
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// authURL is the authentication endpoint. It is a variable so tests can
// point Authenticate at a local server.
var authURL = "https://graph.tractive.com/3/auth/token"

const (
	channelURL = "https://channel.tractive.com/3/channel"

	// tractiveClientID is the undocumented but required client
	// identifier Tractive's API expects on every request.
	tractiveClientID = "625e533dc3c3b41c28a669f0"

	userAgent = "rusty-tractive/1.0 (Go; github.com/rusty-tractive/fleet)"
)

// AuthError signals a non-2xx response or malformed body from the
// authentication endpoint.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("tractive authentication failed: status=%d body=%q", e.Status, e.Body)
}

// Client talks to the Tractive cloud.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New builds a Client with the headers Tractive requires on every request.
func New(logger zerolog.Logger) *Client {
	http := resty.New().
		SetHeader("Content-Type", "application/json;charset=UTF-8").
		SetHeader("Accept-Encoding", "application/json").
		SetHeader("X-Tractive-Client", tractiveClientID).
		SetHeader("User-Agent", userAgent)
	return &Client{http: http, logger: logger}
}

// Authenticate exchanges the account email/password for a user id and
// access token.
func (c *Client) Authenticate(ctx context.Context, email, password string) (Token, error) {
	var token Token
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"platform_email": email,
			"platform_token": password,
			"grant_type":     "tractive",
		}).
		SetResult(&token).
		Post(authURL)
	if err != nil {
		return Token{}, fmt.Errorf("authentication request failed: %w", err)
	}
	if resp.IsError() {
		return Token{}, &AuthError{Status: resp.StatusCode(), Body: resp.String()}
	}
	if token.UserID == "" || token.AccessToken == "" {
		return Token{}, &AuthError{Status: resp.StatusCode(), Body: resp.String()}
	}
	c.logger.Info().Str("email", email).Int64("expires_at", token.ExpiresAt).Msg("authenticated with tractive")
	return token, nil
}

// Stream opens the channel event stream and returns a channel of decoded
// frames. The returned channel is closed when the underlying connection
// ends (EOF or error); the caller is expected to restart the stream,
// since the sequence is finite on connection loss. Lines that
// fail to parse are dropped with an error log and never close the
// channel or abort the read.
func (c *Client) Stream(ctx context.Context, userID, accessToken string) (<-chan Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channelURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build channel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept-Encoding", "application/json")
	req.Header.Set("X-Tractive-Client", tractiveClientID)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Tractive-User", userID)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.GetClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("channel stream returned status %d", resp.StatusCode)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg Message
			if err := msg.UnmarshalJSON(line); err != nil {
				c.logger.Error().Err(err).Bytes("line", line).Msg("failed to decode channel frame")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("channel stream ended with error")
		}
	}()
	return out, nil
}
