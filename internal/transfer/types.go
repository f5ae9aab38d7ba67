package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Op is the direction of a transfer.
type Op string

const (
	OpUpload   Op = "upload"
	OpDownload Op = "download"
)

var (
	ErrMissingHref   = errors.New("transfer: authorization response has no href")
	ErrInvalidHref   = errors.New("transfer: invalid href")
	ErrNoToken       = errors.New("transfer: access token missing")
	ErrNoServerURL   = errors.New("transfer: server url missing")
	ErrNoObjectPath  = errors.New("transfer: object path missing")
	ErrObjectExists  = errors.New("transfer: object exists and overwrite is false")
	ErrWrongOp       = errors.New("transfer: authorization issued for another operation")
	ErrNoBucket      = errors.New("transfer: bucket missing")
	ErrUnexpectedEOF = errors.New("transfer: short body")
)

// Authorization is a short lived capability to move one object. It is used
// once and never persisted.
type Authorization struct {
	Op         Op
	ObjectPath string
	URL        string
	Method     string
	Overwrite  bool
}

func (a *Authorization) String() string {
	return fmt.Sprintf("%s %s (%s)", a.Method, a.ObjectPath, a.Op)
}

func (a *Authorization) method() string {
	if a.Method != "" {
		return a.Method
	}
	if a.Op == OpUpload {
		return http.MethodPut
	}
	return http.MethodGet
}

// Authorizer obtains transfer URLs. Implementations must not assume the
// transfer itself shares any session state with them.
type Authorizer interface {
	AuthorizeUpload(ctx context.Context, objectPath string, overwrite bool) (*Authorization, error)
	AuthorizeDownload(ctx context.Context, objectPath string) (*Authorization, error)
}

// hrefResponse is the body of a successful authorization request
type hrefResponse struct {
	Href      string `json:"href"`
	Method    string `json:"method"`
	Templated bool   `json:"templated"`
}

// APIError is the error body returned by the storage API
type APIError struct {
	Code        string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Description
	}
	if e.Code == "" {
		return "api error: " + msg
	}
	return fmt.Sprintf("api error: %s - %s", e.Code, msg)
}
