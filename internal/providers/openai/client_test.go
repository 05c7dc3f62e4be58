package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"citygen/internal/domain"
	"citygen/internal/storage"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, reply string, got *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": reply}, "finish_reason": "stop"}},
		})
	}))
}

func TestGenerateTextSendsPlainMessage(t *testing.T) {
	var got capturedRequest
	srv := chatServer(t, "<think>hmm</think>\nLength: 20m, Width: 15m, Height: 12m", &got)
	defer srv.Close()

	client, err := NewClient(Options{BaseURL: srv.URL + "/v1", Model: "qwen3-next"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	text, err := client.GenerateText(context.Background(), "how big?")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if text != "Length: 20m, Width: 15m, Height: 12m" {
		t.Fatalf("text = %q", text)
	}
	if got.Model != "qwen3-next" {
		t.Fatalf("model = %q, want qwen3-next", got.Model)
	}
	var content string
	if err := json.Unmarshal(got.Messages[0].Content, &content); err != nil {
		t.Fatalf("content should be a string: %v", err)
	}
	if content != "how big?" {
		t.Fatalf("content = %q", content)
	}
}

func TestEvaluateMultiImageCaptionsSortedViews(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	before, _ := store.Put(ctx, domain.MediaImage, "image/png", []byte("a"))
	after, _ := store.Put(ctx, domain.MediaImage, "image/png", []byte("b"))
	render, _ := store.Put(ctx, domain.MediaVideo, "video/mp4", []byte("c"))

	var got capturedRequest
	srv := chatServer(t, "```json\n{\"pass\": false, \"failed_criteria\": [\"collision\"], \"reason\": \"overlaps the bank\"}\n```", &got)
	defer srv.Close()
	client, _ := NewClient(Options{BaseURL: srv.URL + "/v1", Store: store})

	verdict, err := client.EvaluateMultiImage(ctx, map[string]domain.Handle{
		"local_before": before,
		"local_after":  after,
	}, "compare")
	if err != nil {
		t.Fatalf("EvaluateMultiImage: %v", err)
	}
	if verdict.Accepted || verdict.Reason != "overlaps the bank" || len(verdict.FailedCriteria) != 1 {
		t.Fatalf("verdict = %+v", verdict)
	}

	var parts []contentPart
	if err := json.Unmarshal(got.Messages[0].Content, &parts); err != nil {
		t.Fatalf("decode parts: %v", err)
	}
	if len(parts) != 5 {
		t.Fatalf("parts = %d, want 5", len(parts))
	}
	if parts[1].Text != "View local_after:" || parts[3].Text != "View local_before:" {
		t.Fatalf("captions = %q, %q", parts[1].Text, parts[3].Text)
	}
	if parts[2].ImageURL == nil || !strings.HasPrefix(parts[2].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("image part = %+v", parts[2])
	}

	got = capturedRequest{}
	if _, err := client.EvaluateVideo(ctx, render, "turntable"); err != nil {
		t.Fatalf("EvaluateVideo: %v", err)
	}
	parts = nil
	if err := json.Unmarshal(got.Messages[0].Content, &parts); err != nil {
		t.Fatalf("decode parts: %v", err)
	}
	if parts[1].Type != "video_url" || !strings.HasPrefix(parts[1].VideoURL.URL, "data:video/mp4;base64,") {
		t.Fatalf("video part = %+v", parts[1])
	}
}

func TestEvaluateRejectsMalformedVerdict(t *testing.T) {
	srv := chatServer(t, "Looks great to me!", nil)
	defer srv.Close()
	client, _ := NewClient(Options{BaseURL: srv.URL + "/v1"})

	_, err := client.EvaluateImage(context.Background(), domain.Handle{ID: "x", Kind: domain.MediaImage, Location: "https://cdn.example.com/x.png"}, "grade")
	if !errors.Is(err, domain.ErrMalformedVerdict) {
		t.Fatalf("err = %v, want ErrMalformedVerdict", err)
	}
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()
	client, _ := NewClient(Options{BaseURL: srv.URL + "/v1", APIKey: "k"})

	_, err := client.GenerateText(context.Background(), "hi")
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want API message", err)
	}
}

func TestVisionNeedsStoreForLocalMedia(t *testing.T) {
	client, _ := NewClient(Options{BaseURL: "http://127.0.0.1:1/v1"})
	_, err := client.EvaluateImage(context.Background(), domain.Handle{ID: "x", Location: "media/image/x.png"}, "grade")
	if err == nil || !strings.Contains(err.Error(), "media store") {
		t.Fatalf("err = %v, want media store error", err)
	}
}

func TestStripReasoning(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{in: "plain", want: "plain"},
		{in: "<think>a\nb</think>\n answer ", want: "answer"},
		{in: "answer mentions </think> late", want: "answer mentions </think> late"},
	}
	for _, tc := range cases {
		if got := StripReasoning(tc.in); got != tc.want {
			t.Fatalf("StripReasoning(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
