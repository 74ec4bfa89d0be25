package client

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables read by NewFromEnv.
const (
	EnvURL      = "TOOLVET_URL"
	EnvToken    = "TOOLVET_TOKEN"
	EnvEmail    = "TOOLVET_EMAIL"
	EnvPassword = "TOOLVET_PASSWORD"
)

// LoadToken reads a bearer token from path, typically written by
// 'toolvet login'. Surrounding whitespace and a trailing newline are
// stripped.
func LoadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// NewFromEnv creates an SDK client from environment variables:
//
//	TOOLVET_URL       service base URL (required)
//	TOOLVET_TOKEN     pre-obtained bearer token
//	TOOLVET_EMAIL     operator email    } used together for automatic
//	TOOLVET_PASSWORD  operator password } token exchange and refresh
//
// TOOLVET_TOKEN wins when both a token and credentials are set. Additional
// options (e.g. WithCacheTTL) can be appended:
//
//	c, err := client.NewFromEnv(client.WithCacheTTL(5 * time.Minute))
func NewFromEnv(opts ...Option) (*Client, error) {
	base := os.Getenv(EnvURL)
	if base == "" {
		return nil, fmt.Errorf("%s is not set", EnvURL)
	}

	var envOpts []Option
	if token := os.Getenv(EnvToken); token != "" {
		envOpts = append(envOpts, WithBearerToken(token))
	} else if email := os.Getenv(EnvEmail); email != "" {
		envOpts = append(envOpts, WithCredentials(email, os.Getenv(EnvPassword)))
	}

	return New(base, append(envOpts, opts...)...)
}

// WithTokenFile loads a bearer token from path and attaches it to every
// request. Use it to pick up the token saved by 'toolvet login':
//
//	c, err := client.New(baseURL,
//	    client.WithTokenFile(os.ExpandEnv("$HOME/.toolvet/token")),
//	)
func WithTokenFile(path string) Option {
	return func(c *Client) error {
		token, err := LoadToken(path)
		if err != nil {
			return err
		}
		return WithBearerToken(token)(c)
	}
}
