// Package recon3d talks to the image-to-3D reconstruction service and unpacks
// the bundles it returns.
package recon3d

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"citygen/internal/domain"
	"citygen/internal/providers"
	"citygen/internal/storage"
)

const (
	defaultTimeout = 300 * time.Second
	generatePath   = "/generate-3d/"
	maxBundleSize  = 1 << 30
)

// Options configures the reconstruction client.
type Options struct {
	BaseURL        string
	Store          providers.MediaStore
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Logger         *zerolog.Logger
}

// Client uploads a concept image and stores the returned zip bundle.
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
		return nil, errors.New("recon3d: base url is required")
	}
	if opts.Store == nil {
		return nil, errors.New("recon3d: media store is required")
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

// ImageTo3D posts the image as the multipart "file" field and stores the zip
// bundle the service answers with.
func (c *Client) ImageTo3D(ctx context.Context, image domain.Handle) (domain.Handle, error) {
	data, err := c.store.Load(ctx, image)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: load image: %w", err)
	}
	mime := image.MIME
	if mime == "" {
		mime = storage.MIMEForKey(image.Location)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s%s"`, image.ID, storage.ExtensionForMIME(mime)))
	header.Set("Content-Type", mime)
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: build form: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.Handle{}, fmt.Errorf("recon3d: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, body)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleSize))
	if err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Handle{}, fmt.Errorf("recon3d: status %d: %s: %w", resp.StatusCode, truncate(strings.TrimSpace(string(raw)), 200), domain.ErrProviderFailure)
	}
	if !bytes.HasPrefix(raw, []byte("PK")) {
		return domain.Handle{}, fmt.Errorf("recon3d: response is not a zip bundle: %w", domain.ErrProviderFailure)
	}

	bundle, err := c.store.Put(ctx, domain.MediaBundle, "application/zip", raw)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("recon3d: store bundle: %w", err)
	}
	c.logger.Debug().
		Str("image", image.ID).
		Str("bundle", bundle.ID).
		Int("bytes", len(raw)).
		Dur("took", time.Since(start)).
		Msg("recon3d: reconstructed model")
	return bundle, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ providers.Reconstructor = (*Client)(nil)
