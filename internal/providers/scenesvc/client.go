// Package scenesvc is the client for a remote scene service that merges
// Gaussian-splat models into a scene and renders views of it.
//
// POST /merge     multipart: base (file, optional), model (file), position, rotation (JSON [x,y,z]) -> merged PLY
// POST /snapshot  multipart: scene (file, optional), mode, label, target (JSON [x,y,z], optional) -> PNG
package scenesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"citygen/internal/domain"
	"citygen/internal/providers"
)

const (
	defaultTimeout = 300 * time.Second
	sceneMIME      = "application/x-ply"
	maxResponse    = 2 << 30
)

// Options configures the scene service client.
type Options struct {
	BaseURL        string
	Store          providers.MediaStore
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Logger         *zerolog.Logger
}

// Client implements providers.SceneMerger and providers.Snapshotter.
type Client struct {
	baseURL    string
	store      providers.MediaStore
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

// NewClient constructs a client; BaseURL and Store are required.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("scenesvc: base url is required")
	}
	if opts.Store == nil {
		return nil, errors.New("scenesvc: media store is required")
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
		baseURL:    baseURL,
		store:      opts.Store,
		httpClient: httpClient,
		limiter:    opts.Limiter,
		logger:     logger,
	}, nil
}

type form struct {
	buf *bytes.Buffer
	mw  *multipart.Writer
	err error
}

func newForm() *form {
	buf := &bytes.Buffer{}
	return &form{buf: buf, mw: multipart.NewWriter(buf)}
}

func (f *form) file(name, filename string, data []byte) {
	if f.err != nil {
		return
	}
	w, err := f.mw.CreateFormFile(name, filename)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = w.Write(data)
}

func (f *form) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.mw.WriteField(name, value)
}

func (f *form) vec(name string, v domain.Vec3) {
	f.field(name, fmt.Sprintf("[%g, %g, %g]", v.X, v.Y, v.Z))
}

func (f *form) close() error {
	if f.err != nil {
		return f.err
	}
	return f.mw.Close()
}

// MergeIntoScene uploads the base scene (if any) and the model and stores
// the merged scene returned by the service.
func (c *Client) MergeIntoScene(ctx context.Context, base *domain.Handle, model domain.Handle, position, rotation domain.Vec3) (domain.Handle, error) {
	f := newForm()
	if base != nil {
		data, err := c.store.Load(ctx, *base)
		if err != nil {
			return domain.Handle{}, fmt.Errorf("scenesvc: load base scene: %w", err)
		}
		f.file("base", "base.ply", data)
	}
	modelData, err := c.store.Load(ctx, model)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scenesvc: load model: %w", err)
	}
	f.file("model", "model.ply", modelData)
	f.vec("position", position)
	f.vec("rotation", rotation)
	if err := f.close(); err != nil {
		return domain.Handle{}, fmt.Errorf("scenesvc: build form: %w", err)
	}

	raw, err := c.post(ctx, "/merge", f)
	if err != nil {
		return domain.Handle{}, err
	}
	h, err := c.store.Put(ctx, domain.MediaScene, sceneMIME, raw)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scenesvc: store scene: %w", err)
	}
	c.logger.Debug().Str("scene", h.ID).Str("model", model.ID).Msg("scenesvc: merged model")
	return h, nil
}

// Snapshot asks the service to render a view and stores the PNG.
func (c *Client) Snapshot(ctx context.Context, scene *domain.Handle, req providers.SnapshotRequest) (domain.Handle, error) {
	if req.Mode == providers.SnapshotLocal && req.Target == nil {
		return domain.Handle{}, errors.New("scenesvc: local snapshot needs a target")
	}
	f := newForm()
	if scene != nil {
		data, err := c.store.Load(ctx, *scene)
		if err != nil {
			return domain.Handle{}, fmt.Errorf("scenesvc: load scene: %w", err)
		}
		f.file("scene", "scene.ply", data)
	}
	mode := req.Mode
	if mode == "" {
		mode = providers.SnapshotPanoramic
	}
	f.field("mode", string(mode))
	if req.Label != "" {
		f.field("label", req.Label)
	}
	if req.Target != nil {
		f.vec("target", *req.Target)
	}
	if err := f.close(); err != nil {
		return domain.Handle{}, fmt.Errorf("scenesvc: build form: %w", err)
	}

	raw, err := c.post(ctx, "/snapshot", f)
	if err != nil {
		return domain.Handle{}, err
	}
	h, err := c.store.Put(ctx, domain.MediaImage, "image/png", raw)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("scenesvc: store snapshot: %w", err)
	}
	return h, nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (c *Client) post(ctx context.Context, path string, f *form) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scenesvc: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, f.buf)
	if err != nil {
		return nil, fmt.Errorf("scenesvc: build request: %w", err)
	}
	req.Header.Set("Content-Type", f.mw.FormDataContentType())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scenesvc: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("scenesvc: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return nil, fmt.Errorf("scenesvc: %s %s: %w", path, detail.Detail, domain.ErrProviderFailure)
		}
		return nil, fmt.Errorf("scenesvc: %s status %d: %w", path, resp.StatusCode, domain.ErrProviderFailure)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("scenesvc: %s returned no data: %w", path, domain.ErrProviderFailure)
	}
	return raw, nil
}

var (
	_ providers.SceneMerger = (*Client)(nil)
	_ providers.Snapshotter = (*Client)(nil)
)
