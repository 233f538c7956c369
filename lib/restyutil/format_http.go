package restyutil

import (
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// textual reports whether a content type is worth dumping verbatim.
// Image and other binary payloads are summarized instead.
func textual(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/json" ||
		mediaType == "application/xhtml+xml" ||
		strings.HasSuffix(mediaType, "+xml")
}

func formatBody(res *resty.Response) string {
	contentType := res.Header().Get("Content-Type")
	if textual(contentType) {
		return res.String()
	}
	return fmt.Sprintf("(%d bytes of %s)", len(res.Body()), contentType)
}

// 1: request method
// 2: request url
// 3: request headers
// 4: response status
// 5: final url after redirects
// 6: response headers
// 7: response body
const transcriptTemplate = `---- REQUEST ----

%s %s

%s

---- RESPONSE ----

%s %s

%s

%s
`

func formatTranscript(res *resty.Response) string {
	finalUrl := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}

	return fmt.Sprintf(
		transcriptTemplate,
		res.Request.Method, res.Request.URL,
		formatHeaders(res.Request.RawRequest.Header),
		res.Status(), finalUrl,
		formatHeaders(res.Header()),
		formatBody(res),
	)
}
