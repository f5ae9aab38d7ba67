//go:build sonic

package transfer

import (
	"github.com/bytedance/sonic"
)

// codec for imroc/req
var (
	jsonMarshal   = sonic.Marshal
	jsonUnmarshal = sonic.Unmarshal
)
