package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const DiscordAPI = "https://discord.com/api/v10"

type Options struct {
	// BaseURL defaults to DiscordAPI.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the REST half of the API. It holds no session state and is safe
// for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DiscordAPI
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		token:      token,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With("component", "rest"),
	}
}

// GetGatewayBot returns the gateway URL together with the recommended shard
// count and the session start quota.
func (c *Client) GetGatewayBot(ctx context.Context) (GatewayBot, error) {
	var response GatewayBot
	if err := c.get(ctx, "/gateway/bot", &response); err != nil {
		return GatewayBot{}, err
	}
	if response.URL == "" {
		return GatewayBot{}, fmt.Errorf("gateway bot response has no url")
	}
	return response, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	requestURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bot %s", c.token))
	req.Header.Set("User-Agent", "DiscordBot (personal/discord_client, 1.0)")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making http request: %w", err)
	}
	defer res.Body.Close()

	c.logger.Debug("request complete", "method", req.Method, "path", path, "status", res.StatusCode)

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return newAPIError(res, resBody)
	}

	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("could not unmarshal response body: %w", err)
	}
	return nil
}
