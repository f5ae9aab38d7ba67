package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/imroc/req/v3"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/openmined/dirsync/internal/utils"
)

const (
	DefaultServerURL        = "https://cloud-api.yandex.net"
	DefaultUploadEndpoint   = "/v1/disk/resources/upload"
	DefaultDownloadEndpoint = "/v1/disk/resources/download"
	DefaultAuthScheme       = "OAuth"

	HeaderAuthorization = "Authorization"
)

// APIConfig describes the authorization endpoints of the storage service.
type APIConfig struct {
	ServerURL        string
	UploadEndpoint   string
	DownloadEndpoint string
	AuthScheme       string
	AccessToken      string
}

func (c *APIConfig) withDefaults() APIConfig {
	out := *c
	if out.UploadEndpoint == "" {
		out.UploadEndpoint = DefaultUploadEndpoint
	}
	if out.DownloadEndpoint == "" {
		out.DownloadEndpoint = DefaultDownloadEndpoint
	}
	if out.AuthScheme == "" {
		out.AuthScheme = DefaultAuthScheme
	}
	return out
}

func (c *APIConfig) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if c.ServerURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return ErrNoServerURL
	}
	if c.AccessToken == "" {
		return ErrNoToken
	}
	return nil
}

// APIAuthorizer requests one-time transfer URLs from the storage API:
//
//	GET <server><endpoint>?path=<object>&overwrite=<bool>  ->  {"href": "..."}
type APIAuthorizer struct {
	client *req.Client
	config APIConfig
}

func NewAPIAuthorizer(cfg APIConfig) (*APIAuthorizer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &APIAuthorizer{
		client: newHTTPClient().SetBaseURL(cfg.ServerURL),
		config: cfg,
	}, nil
}

// headers are built per request from the immutable config
func (a *APIAuthorizer) headers() map[string]string {
	return map[string]string{
		HeaderAuthorization: a.config.AuthScheme + " " + a.config.AccessToken,
		"Accept":            "application/json",
	}
}

func (a *APIAuthorizer) AuthorizeUpload(ctx context.Context, objectPath string, overwrite bool) (*Authorization, error) {
	params := map[string]string{
		"path":      objectPath,
		"overwrite": strconv.FormatBool(overwrite),
	}

	auth, err := a.authorize(ctx, OpUpload, a.config.UploadEndpoint, objectPath, params)
	if err != nil {
		return nil, err
	}
	auth.Overwrite = overwrite
	return auth, nil
}

func (a *APIAuthorizer) AuthorizeDownload(ctx context.Context, objectPath string) (*Authorization, error) {
	params := map[string]string{
		"path": objectPath,
	}
	return a.authorize(ctx, OpDownload, a.config.DownloadEndpoint, objectPath, params)
}

func (a *APIAuthorizer) authorize(ctx context.Context, op Op, endpoint string, objectPath string, params map[string]string) (*Authorization, error) {
	operation := string(op) + " authorize"
	if objectPath == "" {
		return nil, syncerr.Authorization(operation, objectPath, ErrNoObjectPath)
	}

	var body hrefResponse
	var apiErr APIError

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeaders(a.headers()).
		SetQueryParams(params).
		SetSuccessResult(&body).
		SetErrorResult(&apiErr).
		Get(endpoint)
	// req reports body decode failures as errors too; only a missing response is a network failure
	if err != nil && (resp == nil || resp.Response == nil) {
		return nil, syncerr.Transfer(operation, objectPath, fmt.Errorf("http request: %w", err))
	}

	if !resp.IsSuccessState() {
		cause := error(&apiErr)
		if apiErr.Code == "" && apiErr.Message == "" && apiErr.Description == "" {
			cause = fmt.Errorf("status %s", resp.Status)
		}
		if op == OpDownload && resp.GetStatusCode() == http.StatusNotFound {
			return nil, syncerr.NotFound(operation, objectPath, cause)
		}
		return nil, syncerr.Authorization(operation, objectPath, fmt.Errorf("status %d: %w", resp.GetStatusCode(), cause))
	}

	if err != nil {
		return nil, syncerr.Authorization(operation, objectPath, fmt.Errorf("%w: %w", ErrMissingHref, err))
	}
	if body.Href == "" {
		return nil, syncerr.Authorization(operation, objectPath, ErrMissingHref)
	}
	if u, err := url.Parse(body.Href); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, syncerr.Authorization(operation, objectPath, fmt.Errorf("%w: %q", ErrInvalidHref, body.Href))
	}

	return &Authorization{
		Op:         op,
		ObjectPath: objectPath,
		URL:        body.Href,
		Method:     body.Method,
	}, nil
}

// Token returns the masked access token for logging.
func (a *APIAuthorizer) Token() string {
	return utils.MaskSecret(a.config.AccessToken)
}

var _ Authorizer = (*APIAuthorizer)(nil)
