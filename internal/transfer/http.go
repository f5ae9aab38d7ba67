package transfer

import (
	"github.com/imroc/req/v3"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/openmined/dirsync/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderDeviceID  = "X-Dirsync-Device-Id"
)

// newHTTPClient returns a req client with the common headers set. Retries stay
// off: a failed run is retried by running it again.
func newHTTPClient() *req.Client {
	c := req.C().
		SetUserAgent(version.UserAgent()).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
	if utils.HWID != "" {
		c.SetCommonHeader(HeaderDeviceID, utils.HWID)
	}
	return c
}
