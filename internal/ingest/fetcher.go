// Package ingest turns a queued upload job into indexed chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pdfchat/internal/apperr"
	"pdfchat/internal/retry"
)

// Source is a fetched file on local disk.
type Source struct {
	Path string
	temp bool
}

// Cleanup removes the file if it was downloaded. Local uploads are left alone.
func (s Source) Cleanup() {
	if !s.temp || s.Path == "" {
		return
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove temp file", "path", s.Path, "error", err)
	}
}

// S3Downloader is implemented by *manager.Downloader.
type S3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

type FetcherConfig struct {
	TempDir string
	Timeout time.Duration
	Policy  retry.Policy
	// MaxBytes caps http downloads. Zero means unlimited.
	MaxBytes int64
	// LocalRoot, when set, is the only directory local paths may be read from.
	LocalRoot string
}

type Fetcher struct {
	http *http.Client
	s3   S3Downloader
	cfg  FetcherConfig
}

// NewFetcher builds a fetcher. s3 may be nil when no S3 sources are expected.
func NewFetcher(httpClient *http.Client, s3 S3Downloader, cfg FetcherConfig) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{http: httpClient, s3: s3, cfg: cfg}
}

// Fetch makes locator available as a local file. A local path outside
// LocalRoot fails with apperr.ErrInvalidJob. Every other failure wraps
// apperr.ErrSourceUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (Source, error) {
	if filepath.IsAbs(locator) {
		if !f.allowedLocal(locator) {
			return Source{}, fmt.Errorf("%w: %s is outside the upload directory", apperr.ErrInvalidJob, locator)
		}
		if _, err := os.Stat(locator); err != nil {
			return Source{}, fmt.Errorf("%w: %w", apperr.ErrSourceUnavailable, err)
		}
		return Source{Path: locator}, nil
	}

	u, err := url.Parse(locator)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %w", apperr.ErrSourceUnavailable, err)
	}

	var download func(ctx context.Context, w *os.File) error
	switch u.Scheme {
	case "http", "https":
		download = func(ctx context.Context, w *os.File) error { return f.fetchHTTP(ctx, locator, w) }
	case "s3":
		if f.s3 == nil {
			return Source{}, fmt.Errorf("%w: s3 is not configured", apperr.ErrSourceUnavailable)
		}
		bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
		download = func(ctx context.Context, w *os.File) error { return f.fetchS3(ctx, bucket, key, w) }
	default:
		return Source{}, fmt.Errorf("%w: unsupported scheme %q", apperr.ErrSourceUnavailable, u.Scheme)
	}

	tmp, err := os.CreateTemp(f.cfg.TempDir, "pdfchat-*.pdf")
	if err != nil {
		return Source{}, fmt.Errorf("%w: create temp file: %w", apperr.ErrSourceUnavailable, err)
	}
	src := Source{Path: tmp.Name(), temp: true}

	err = f.cfg.Policy.DoTimeout(ctx, f.cfg.Timeout, func(ctx context.Context) error {
		if err := tmp.Truncate(0); err != nil {
			return err
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return download(ctx, tmp)
	})
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		src.Cleanup()
		return Source{}, fmt.Errorf("%w: %w", apperr.ErrSourceUnavailable, err)
	}
	return src, nil
}

func (f *Fetcher) allowedLocal(path string) bool {
	if f.cfg.LocalRoot == "" {
		return true
	}
	root, err := filepath.Abs(f.cfg.LocalRoot)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, locator string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError{code: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return err
	}
	if f.cfg.MaxBytes > 0 && n > f.cfg.MaxBytes {
		return fmt.Errorf("source larger than %d bytes", f.cfg.MaxBytes)
	}
	return nil
}

func (f *Fetcher) fetchS3(ctx context.Context, bucket, key string, w io.WriterAt) error {
	_, err := f.s3.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 get failed: %w", err)
	}
	return nil
}
