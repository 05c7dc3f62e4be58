// Package openai is a client for OpenAI-compatible chat completion endpoints.
// It serves both the text model and the vision model (vLLM-hosted Qwen-VL or
// any endpoint that accepts image_url and video_url content parts).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"citygen/internal/domain"
	"citygen/internal/infra"
	"citygen/internal/llmjson"
	"citygen/internal/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 300 * time.Second
)

// Options configures a chat client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	Store          providers.MediaStore
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Logger         *infra.Logger
}

// Client implements providers.TextGenerator, providers.ImageTextGenerator
// and providers.Evaluator.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	store       providers.MediaStore
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *infra.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage content is either a string or a list of contentParts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *mediaURL `json:"image_url,omitempty"`
	VideoURL *mediaURL `json:"video_url,omitempty"`
}

type mediaURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient builds a client with defaults for the base URL, model and timeout.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		store:       opts.Store,
		httpClient:  httpClient,
		limiter:     opts.Limiter,
		logger:      logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// GenerateText sends a single user message.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []chatMessage{{Role: "user", Content: prompt}})
}

// GenerateTextWithImages sends the prompt followed by the images.
func (c *Client) GenerateTextWithImages(ctx context.Context, prompt string, images []domain.Handle) (string, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, h := range images {
		part, err := c.mediaPart(ctx, h)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return c.complete(ctx, []chatMessage{{Role: "user", Content: parts}})
}

// EvaluateImage grades one image.
func (c *Client) EvaluateImage(ctx context.Context, image domain.Handle, prompt string) (domain.Verdict, error) {
	return c.evaluate(ctx, prompt, []domain.Handle{image}, nil)
}

// EvaluateVideo grades one video.
func (c *Client) EvaluateVideo(ctx context.Context, video domain.Handle, prompt string) (domain.Verdict, error) {
	return c.evaluate(ctx, prompt, []domain.Handle{video}, nil)
}

// EvaluateMultiImage grades a set of named views. Each image is preceded by a
// caption with its name; names are sent in sorted order.
func (c *Client) EvaluateMultiImage(ctx context.Context, images map[string]domain.Handle, prompt string) (domain.Verdict, error) {
	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)
	handles := make([]domain.Handle, 0, len(names))
	for _, name := range names {
		handles = append(handles, images[name])
	}
	return c.evaluate(ctx, prompt, handles, names)
}

func (c *Client) evaluate(ctx context.Context, prompt string, media []domain.Handle, captions []string) (domain.Verdict, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	for i, h := range media {
		if i < len(captions) {
			parts = append(parts, contentPart{Type: "text", Text: "View " + captions[i] + ":"})
		}
		part, err := c.mediaPart(ctx, h)
		if err != nil {
			return domain.Verdict{}, err
		}
		parts = append(parts, part)
	}
	text, err := c.complete(ctx, []chatMessage{{Role: "user", Content: parts}})
	if err != nil {
		return domain.Verdict{}, err
	}
	verdict, err := llmjson.ParseVerdict(text)
	if err != nil {
		c.logger.Debug().Str("model", c.model).Str("raw", text).Msg("openai: unparseable verdict")
		return domain.Verdict{}, fmt.Errorf("openai: %w", err)
	}
	return verdict, nil
}

// mediaPart turns a stored handle into an inline data URL part. Handles whose
// location already is a URL are passed through.
func (c *Client) mediaPart(ctx context.Context, h domain.Handle) (contentPart, error) {
	ref := h.Location
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		if c.store == nil {
			return contentPart{}, errors.New("openai: media store is required for vision requests")
		}
		url, err := c.store.DataURL(ctx, h)
		if err != nil {
			return contentPart{}, fmt.Errorf("openai: encode %s: %w", h.ID, err)
		}
		ref = url
	}
	if h.Kind == domain.MediaVideo {
		return contentPart{Type: "video_url", VideoURL: &mediaURL{URL: ref}}, nil
	}
	return contentPart{Type: "image_url", ImageURL: &mediaURL{URL: ref}}, nil
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("openai: %w", err)
		}
	}
	endpoint := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			return "", fmt.Errorf("openai: %s: %w", detail.Error.Message, domain.ErrProviderFailure)
		}
		return "", fmt.Errorf("openai: status %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices: %w", domain.ErrProviderFailure)
	}
	text := StripReasoning(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: empty response: %w", domain.ErrProviderFailure)
	}
	c.logger.Debug().
		Str("model", c.model).
		Dur("took", time.Since(start)).
		Str("finish_reason", out.Choices[0].FinishReason).
		Msg("openai: completion")
	return text, nil
}

// StripReasoning drops a leading <think>...</think> block that reasoning
// models emit before their answer.
func StripReasoning(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "</think>"); idx >= 0 && strings.HasPrefix(text, "<think>") {
		text = text[idx+len("</think>"):]
	}
	return strings.TrimSpace(text)
}

var (
	_ providers.TextGenerator      = (*Client)(nil)
	_ providers.ImageTextGenerator = (*Client)(nil)
	_ providers.Evaluator          = (*Client)(nil)
)
