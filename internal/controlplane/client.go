package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

// Config holds control-plane client configuration.
type Config struct {
	Timeout time.Duration
	// ClientID is the OAuth client used for the password grant. The CF CLI client "cf" has an empty secret.
	ClientID     string
	ClientSecret string
}

// Client talks to a Cloud Foundry v3 API and its UAA.
type Client struct {
	httpClient *http.Client
	oauthID    string
	oauthKey   string
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cf"
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		oauthID:    cfg.ClientID,
		oauthKey:   cfg.ClientSecret,
		logger:     logger.With().Str("component", "controlplane").Logger(),
	}
}

// HTTPError is a non-success response from the control plane.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("CF %s %d %s: %s", e.Method, e.Status, e.URL, e.Body)
}

// ExchangeCredentials runs the OAuth2 password grant against <identityURL>/oauth/token.
func (c *Client) ExchangeCredentials(ctx context.Context, identityURL, username, password string) (string, error) {
	oc := oauth2.Config{
		ClientID:     c.oauthID,
		ClientSecret: c.oauthKey,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(identityURL, "/") + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := oc.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return "", domain.NewAuthError(identityURL, err)
	}
	if tok.AccessToken == "" {
		return "", domain.NewAuthError(identityURL, errors.New("empty access token"))
	}
	return tok.AccessToken, nil
}

func (c *Client) do(ctx context.Context, method, u, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CF %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response of %s %s: %w", method, u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &HTTPError{Method: method, URL: u, Status: resp.StatusCode, Body: snippet}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response of %s %s: %w", method, u, err)
	}
	return nil
}

func (c *Client) GetLifecycleState(ctx context.Context, api, token, resourceID string) (domain.LifecycleState, error) {
	var app appResource
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v3/apps/%s", api, resourceID), token, &app); err != nil {
		return domain.LifecycleUnknown, err
	}
	return domain.ParseLifecycleState(app.State), nil
}

func (c *Client) ListProcesses(ctx context.Context, api, token, resourceID string) ([]domain.Process, error) {
	var list listResponse[processResource]
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v3/apps/%s/processes", api, resourceID), token, &list); err != nil {
		return nil, err
	}
	out := make([]domain.Process, 0, len(list.Resources))
	for _, p := range list.Resources {
		out = append(out, domain.Process{Type: p.Type, ID: p.GUID})
	}
	return out, nil
}

func (c *Client) GetInstanceStates(ctx context.Context, api, token, processID string) ([]domain.Instance, error) {
	var list listResponse[statsResource]
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v3/processes/%s/stats", api, processID), token, &list); err != nil {
		return nil, err
	}
	out := make([]domain.Instance, 0, len(list.Resources))
	for _, s := range list.Resources {
		out = append(out, domain.Instance{Index: s.Index, State: domain.ParseInstanceState(s.State)})
	}
	return out, nil
}

func (c *Client) TriggerStart(ctx context.Context, api, token, resourceID string) error {
	return c.action(ctx, "start", api, token, resourceID)
}

func (c *Client) TriggerStop(ctx context.Context, api, token, resourceID string) error {
	return c.action(ctx, "stop", api, token, resourceID)
}

func (c *Client) action(ctx context.Context, action, api, token, resourceID string) error {
	u := fmt.Sprintf("%s/v3/apps/%s/actions/%s", api, resourceID, action)
	if err := c.do(ctx, http.MethodPost, u, token, nil); err != nil {
		return domain.NewActionError(action, resourceID, err)
	}
	c.logger.Info().Str("resource_id", resourceID).Msgf("app %s requested", action)
	return nil
}

// LookupResourceByName resolves org -> space -> app names into the app guid.
func (c *Client) LookupResourceByName(ctx context.Context, api, token, orgName, spaceName, appName string) (string, error) {
	orgGUID, err := c.firstGUID(ctx, "organization", orgName,
		fmt.Sprintf("%s/v3/organizations?names=%s", api, url.QueryEscape(orgName)), token)
	if err != nil {
		return "", err
	}
	spaceGUID, err := c.firstGUID(ctx, "space", spaceName,
		fmt.Sprintf("%s/v3/spaces?names=%s&organization_guids=%s", api, url.QueryEscape(spaceName), orgGUID), token)
	if err != nil {
		return "", err
	}
	return c.firstGUID(ctx, "app", appName,
		fmt.Sprintf("%s/v3/apps?names=%s&space_guids=%s", api, url.QueryEscape(appName), spaceGUID), token)
}

func (c *Client) firstGUID(ctx context.Context, kind, name, u, token string) (string, error) {
	var list listResponse[namedResource]
	if err := c.do(ctx, http.MethodGet, u, token, &list); err != nil {
		return "", domain.NewLookupError(kind, name, err)
	}
	if len(list.Resources) == 0 || list.Resources[0].GUID == "" {
		return "", domain.NewLookupError(kind, name, nil)
	}
	return list.Resources[0].GUID, nil
}

// Ping issues a plain GET against an application URL, typically to warm it up.
func (c *Client) Ping(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ping returned status %d", resp.StatusCode)
	}
	return nil
}
