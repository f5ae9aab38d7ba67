package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/openmined/dirsync/internal/version"
)

const partSuffix = ".part"

// Client runs the two-phase protocol: obtain an Authorization, then move the
// bytes against its URL.
type Client struct {
	authorizer Authorizer
	http       *req.Client
	progress   ProgressFunc
}

type Option func(*Client)

func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

func New(authorizer Authorizer, opts ...Option) *Client {
	c := &Client{
		authorizer: authorizer,
		http:       newHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestUploadAuthorization asks for a URL the caller may PUT objectPath to.
func (c *Client) RequestUploadAuthorization(ctx context.Context, objectPath string, overwrite bool) (*Authorization, error) {
	auth, err := c.authorizer.AuthorizeUpload(ctx, objectPath, overwrite)
	if err != nil {
		return nil, tag(err, syncerr.Authorization, "upload authorize", objectPath)
	}
	slog.Debug("upload authorized", "object", objectPath, "overwrite", overwrite)
	return auth, nil
}

// RequestDownloadAuthorization asks for a URL objectPath can be fetched from.
func (c *Client) RequestDownloadAuthorization(ctx context.Context, objectPath string) (*Authorization, error) {
	auth, err := c.authorizer.AuthorizeDownload(ctx, objectPath)
	if err != nil {
		return nil, tag(err, syncerr.Authorization, "download authorize", objectPath)
	}
	slog.Debug("download authorized", "object", objectPath)
	return auth, nil
}

// Upload streams localPath to the authorized URL.
// The file is opened before any network activity.
func (c *Client) Upload(ctx context.Context, auth *Authorization, localPath string) error {
	if auth == nil || auth.Op != OpUpload {
		return syncerr.Transfer("upload", localPath, ErrWrongOp)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return syncerr.Filesystem("upload", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return syncerr.Filesystem("upload", localPath, err)
	}

	/*
		not going through req for the body:
		- presigned targets need an exact Content-Length
		- the file is streamed, never buffered in memory
		- the URL is a capability, no auth headers are sent
	*/
	body := &progressReader{
		reader:   file,
		op:       OpUpload,
		total:    info.Size(),
		callback: c.progress,
	}
	httpReq, err := http.NewRequestWithContext(ctx, auth.method(), auth.URL, body)
	if err != nil {
		return syncerr.Transfer("upload", auth.ObjectPath, err)
	}
	httpReq.ContentLength = info.Size() // presigned targets reject chunked bodies
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(HeaderUserAgent, version.UserAgent())

	resp, err := c.http.GetClient().Do(httpReq)
	if err != nil {
		return syncerr.Transfer("upload", auth.ObjectPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return syncerr.Transfer("upload", auth.ObjectPath, statusError(resp.StatusCode, string(msg)))
	}

	slog.Info("upload complete", "object", auth.ObjectPath, "size", humanize.Bytes(uint64(info.Size())), "status", resp.StatusCode)
	return nil
}

// Download fetches the authorized URL into destPath. Only a 200 response counts
// as success; the file appears at destPath only when the body was fully received.
func (c *Client) Download(ctx context.Context, auth *Authorization, destPath string) error {
	if auth == nil || auth.Op != OpDownload {
		return syncerr.Transfer("download", destPath, ErrWrongOp)
	}
	if err := utils.EnsureParent(destPath); err != nil {
		return syncerr.Filesystem("download", destPath, err)
	}

	partPath := destPath + partSuffix
	resp, err := c.http.R().
		SetContext(ctx).
		SetOutputFile(partPath).
		SetDownloadCallbackWithInterval(func(info req.DownloadInfo) {
			if c.progress != nil && info.Response != nil && info.Response.Response != nil {
				c.progress(OpDownload, info.DownloadedSize, info.Response.ContentLength)
			}
		}, progressInterval).
		Send(auth.method(), auth.URL)

	fail := func(err error) error {
		if rerr := os.Remove(partPath); rerr != nil && !os.IsNotExist(rerr) {
			slog.Warn("download: remove partial file", "path", partPath, "error", rerr)
		}
		return err
	}

	if err != nil && (resp == nil || resp.Response == nil) {
		return fail(syncerr.Transfer("download", auth.ObjectPath, err))
	}

	if resp.GetStatusCode() != http.StatusOK {
		// with an output file set, the error body lands in the file
		msg, _ := os.ReadFile(partPath)
		if len(msg) > 4096 {
			msg = msg[:4096]
		}
		return fail(syncerr.Transfer("download", auth.ObjectPath, statusError(resp.GetStatusCode(), string(msg))))
	}
	if err != nil {
		return fail(syncerr.Transfer("download", auth.ObjectPath, err))
	}

	info, err := os.Stat(partPath)
	if err != nil {
		return fail(syncerr.Filesystem("download", partPath, err))
	}
	if resp.ContentLength >= 0 && info.Size() != resp.ContentLength {
		return fail(syncerr.Transfer("download", auth.ObjectPath,
			fmt.Errorf("%w: got %d of %d bytes", ErrUnexpectedEOF, info.Size(), resp.ContentLength)))
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return fail(syncerr.Filesystem("download", destPath, err))
	}

	slog.Info("download complete", "object", auth.ObjectPath, "size", humanize.Bytes(uint64(info.Size())), "path", destPath)
	return nil
}

// StatusError is a non-success response to a raw transfer
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func statusError(code int, body string) error {
	return &StatusError{StatusCode: code, Body: strings.TrimSpace(body)}
}

// tag gives untagged authorizer errors a kind so callers can rely on errors.Is
func tag(err error, kind func(op, path string, err error) error, op, path string) error {
	if syncerr.Tagged(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syncerr.Transfer(op, path, err)
	}
	return kind(op, path, err)
}
