// Package restyutil captures request/response transcripts from resty
// clients. Wired behind a debug flag, it gives a file-per-request view
// of what a site actually returned, which is the fastest way to figure
// out why a selector stopped matching.
package restyutil

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives one rendered transcript per completed request.
type Output interface {
	Write(id string, contents string)
}

// CaptureTranscripts hooks output into the client. Only requests that
// actually reach the network produce transcripts, cache hits never
// touch the client.
func CaptureTranscripts(client *resty.Client, output Output) {
	var counter uint64

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := fmt.Sprintf("%04d", atomic.AddUint64(&counter, 1))
		output.Write(id, formatTranscript(res))
		slog.DebugContext(
			res.Request.Context(), "captured http transcript",
			"id", id,
			"url", res.Request.URL,
		)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		id := fmt.Sprintf("%04d", atomic.AddUint64(&counter, 1))
		output.Write(id, fmt.Sprintf(
			"---- REQUEST ----\n\n%s %s\n\nfailed: %s\n",
			req.Method, req.URL, err,
		))
	})
}
