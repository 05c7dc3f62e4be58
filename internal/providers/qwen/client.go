// Package qwen generates concept images with the DashScope Qwen image API.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"citygen/internal/domain"
	"citygen/internal/infra"
	"citygen/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// DefaultNegativePrompt keeps concept art usable for reconstruction.
const DefaultNegativePrompt = "blurry, cast shadows, cluttered background, text, watermark, cropped subject"

const (
	defaultBaseURL   = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultModel     = "qwen-image-plus"
	defaultSize      = "1328*1328"
	generationPath   = "/services/aigc/multimodal-generation/generation"
	maxDownloadBytes = 32 << 20
)

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	Size           string
	NegativePrompt string
	// Seed, when positive, makes output reproducible: call n uses Seed+n so
	// gate retries still get a different image.
	Seed           int
	Store          providers.MediaStore
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Logger         *infra.Logger
}

// Client implements providers.ImageGenerator.
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	size       string
	negative   string
	seed       int
	calls      atomic.Int64
	store      providers.MediaStore
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *infra.Logger
}

type generationRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []message `json:"messages"`
	} `json:"input"`
	Parameters parameters `json:"parameters"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type content struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type parameters struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Watermark      bool   `json:"watermark"`
	Seed           *int   `json:"seed,omitempty"`
}

type generationResponse struct {
	Output struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient applies defaults for the endpoint, model, size and timeout.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 300 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		endpoint:   baseURL + generationPath,
		model:      orDefault(opts.Model, defaultModel),
		size:       orDefault(opts.Size, defaultSize),
		negative:   orDefault(opts.NegativePrompt, DefaultNegativePrompt),
		seed:       opts.Seed,
		store:      opts.Store,
		httpClient: httpClient,
		limiter:    opts.Limiter,
		logger:     logger,
	}, nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateImage renders one concept image for prompt, downloads it and
// stores it as an image handle.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (domain.Handle, error) {
	if !c.HasCredentials() {
		return domain.Handle{}, ErrMissingAPIKey
	}
	if c.store == nil {
		return domain.Handle{}, errors.New("qwen: media store is required")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Handle{}, errors.New("qwen: prompt is required")
	}

	decoded, err := c.generate(ctx, c.request(prompt))
	if err != nil {
		return domain.Handle{}, err
	}
	imageURL := firstImage(decoded)
	if imageURL == "" {
		return domain.Handle{}, fmt.Errorf("qwen: response %s carried no image: %w", decoded.RequestID, domain.ErrProviderFailure)
	}
	data, mime, err := c.download(ctx, imageURL)
	if err != nil {
		return domain.Handle{}, err
	}
	h, err := c.store.Put(ctx, domain.MediaImage, mime, data)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("qwen: store image: %w", err)
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Str("handle", h.ID).
		Int("bytes", len(data)).
		Msg("qwen: generated image")
	return h, nil
}

func (c *Client) request(prompt string) generationRequest {
	var req generationRequest
	req.Model = c.model
	req.Input.Messages = []message{{Role: "user", Content: []content{{Text: prompt}}}}
	req.Parameters = parameters{NegativePrompt: c.negative, Size: c.size}
	n := int(c.calls.Add(1)) - 1
	if c.seed > 0 {
		seed := c.seed + n
		req.Parameters.Seed = &seed
	}
	return req
}

func (c *Client) generate(ctx context.Context, payload generationRequest) (generationResponse, error) {
	var decoded generationResponse
	body, err := json.Marshal(payload)
	if err != nil {
		return decoded, fmt.Errorf("qwen: encode request: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return decoded, fmt.Errorf("qwen: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return decoded, fmt.Errorf("qwen: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decoded, fmt.Errorf("qwen: http request: %w: %w", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return decoded, fmt.Errorf("qwen: read response: %w", err)
	}

	// DashScope reports failures as {"code","message"} with or without an
	// error status.
	jsonErr := json.Unmarshal(raw, &decoded)
	switch {
	case decoded.Code != "":
		return decoded, fmt.Errorf("qwen: %s (%s): %w", decoded.Message, decoded.Code, domain.ErrProviderFailure)
	case resp.StatusCode >= 300:
		return decoded, fmt.Errorf("qwen: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	case jsonErr != nil:
		return decoded, fmt.Errorf("qwen: decode response: %w: %w", domain.ErrProviderFailure, jsonErr)
	}
	return decoded, nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("qwen: invalid image url %q: %w", imageURL, domain.ErrProviderFailure)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: download image: %w: %w", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("qwen: download status %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("qwen: read image: %w", err)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func firstImage(resp generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, part := range choice.Message.Content {
			if u := strings.TrimSpace(part.Image); u != "" {
				return u
			}
		}
	}
	return ""
}

var _ providers.ImageGenerator = (*Client)(nil)
