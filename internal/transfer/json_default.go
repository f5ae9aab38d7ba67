//go:build !sonic

package transfer

import (
	"github.com/goccy/go-json"
)

// codec for imroc/req
var (
	jsonMarshal   = json.Marshal
	jsonUnmarshal = json.Unmarshal
)
