// Package mediaservices is a minimal client for the media services management API.
// It covers the one call the event processor needs: creating a streaming locator.
package mediaservices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBody = 64 << 10

// Config identifies the media services account and the credentials used to reach it.
type Config struct {
	ARMEndpoint    string
	AuthorityHost  string
	SubscriptionID string
	ResourceGroup  string
	AccountName    string
	TenantID       string
	ClientID       string
	ClientSecret   string
	APIVersion     string
	RequestTimeout time.Duration
}

// Client talks to the management API with an already-authenticated HTTP client.
// It is safe for concurrent use.
type Client struct {
	http    *http.Client
	cfg     Config
	baseURL string
	tracer  trace.Tracer
}

// New builds a Client whose requests carry a client-credentials bearer token.
// The token is fetched lazily and reused until it expires. ctx scopes token
// acquisition and should outlive the client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("mediaservices: tenant, client id and client secret are required")
	}

	arm := strings.TrimRight(cfg.ARMEndpoint, "/")
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(cfg.AuthorityHost, "/"), url.PathEscape(cfg.TenantID)),
		Scopes:       []string{arm + "/.default"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tokenHTTP := &http.Client{Timeout: cfg.RequestTimeout}
	hc := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, tokenHTTP))
	hc.Timeout = cfg.RequestTimeout

	return NewWithHTTPClient(cfg, hc), nil
}

// NewWithHTTPClient builds a Client around hc, which must already authenticate requests.
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	return &Client{
		http:    hc,
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ARMEndpoint, "/"),
		tracer:  otel.Tracer("github.com/your-org/mediaflow-events/pkg/mediaservices"),
	}
}

// CreateStreamingLocator creates (PUT) the named streaming locator.
// An existing locator with different properties yields an *APIError with status 409.
func (c *Client) CreateStreamingLocator(ctx context.Context, name string, props StreamingLocatorProperties) (*StreamingLocator, error) {
	ctx, span := c.tracer.Start(ctx, "mediaservices.CreateStreamingLocator", trace.WithAttributes(
		attribute.String("media.locator", name),
		attribute.String("media.asset", props.AssetName),
		attribute.String("media.streaming_policy", string(props.StreamingPolicyName)),
	))
	defer span.End()

	locator, err := c.createStreamingLocator(ctx, name, props)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create streaming locator failed")
		return nil, err
	}
	return locator, nil
}

func (c *Client) createStreamingLocator(ctx context.Context, name string, props StreamingLocatorProperties) (*StreamingLocator, error) {
	if name == "" {
		return nil, errors.New("mediaservices: locator name is required")
	}

	body, err := json.Marshal(StreamingLocator{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("marshal streaming locator: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.locatorURL(name), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put streaming locator %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	// The locator exists once the API accepts it; the body only adds detail.
	out := StreamingLocator{Name: name, Properties: props}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if len(bytes.TrimSpace(raw)) > 0 {
		var created StreamingLocator
		if json.Unmarshal(raw, &created) == nil {
			out = created
		}
	}
	return &out, nil
}

func (c *Client) locatorURL(name string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Media/mediaServices/%s/streamingLocators/%s?api-version=%s",
		c.baseURL,
		url.PathEscape(c.cfg.SubscriptionID),
		url.PathEscape(c.cfg.ResourceGroup),
		url.PathEscape(c.cfg.AccountName),
		url.PathEscape(name),
		url.QueryEscape(c.cfg.APIVersion),
	)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
