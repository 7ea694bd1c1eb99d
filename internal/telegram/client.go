// Package telegram is the typed client for the Telegram Bot API methods
// the fleet needs: get_me, get_updates (long poll), set_my_commands,
// send_message, send_location, edit/stop_message_live_location,
// delete_message, pin/unpin_chat_message.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// baselineTimeout applies to every call except get_updates, which adds
// the server's long-poll window on top.
const baselineTimeout = 5 * time.Second

// Client posts typed requests to the Bot API and decodes its envelope.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  zerolog.Logger
}

// New builds a Client for the bot identified by token.
func New(token string, logger zerolog.Logger) *Client {
	return &Client{
		http:    resty.New(),
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s", token),
		logger:  logger,
	}
}

// SetBaseURL overrides the Bot API base URL, for operators running a
// self-hosted Bot API server instead of api.telegram.org.
func (c *Client) SetBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// Call posts method m and decodes its typed result. Use CallWithTimeout
// for get_updates, which needs a longer deadline than the baseline.
func Call[T any](ctx context.Context, c *Client, m Method) (T, error) {
	return CallWithTimeout[T](ctx, c, m, baselineTimeout)
}

// CallWithTimeout posts method m with an explicit timeout, used by
// get_updates to apply baseline + long_poll_timeout.
func CallWithTimeout[T any](ctx context.Context, c *Client, m Method, timeout time.Duration) (T, error) {
	var zero T
	var env envelope[T]

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(m).
		SetResult(&env).
		SetError(&env).
		ForceContentType("application/json").
		Post(fmt.Sprintf("%s/%s", c.baseURL, m.Name()))
	if err != nil {
		return zero, fmt.Errorf("telegram %s request failed: %w", m.Name(), err)
	}
	if resp.IsError() && !env.OK {
		return zero, &ApiError{Code: env.ErrorCode, Description: env.Description}
	}
	if !env.OK {
		return zero, &ApiError{Code: env.ErrorCode, Description: env.Description}
	}
	return env.Result, nil
}
