package transfer

import (
	"io"
	"time"
)

const progressInterval = 500 * time.Millisecond

// ProgressFunc receives byte counts while an upload or download is running.
// total is -1 when the server did not announce a length.
type ProgressFunc func(op Op, done int64, total int64)

// progressReader counts bytes read through it and reports at most every progressInterval
type progressReader struct {
	reader   io.Reader
	op       Op
	done     int64
	total    int64
	callback ProgressFunc
	last     time.Time
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.done += int64(n)

	if pr.callback != nil {
		now := time.Now()
		if now.Sub(pr.last) >= progressInterval || err == io.EOF {
			pr.callback(pr.op, pr.done, pr.total)
			pr.last = now
		}
	}

	return n, err
}
