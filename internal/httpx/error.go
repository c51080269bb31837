package httpx

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

// maxErrorBody caps how much of a response body Error() prints.
const maxErrorBody = 512

// HTTPError is a response with a status outside 2xx. URL has credential query
// parameters redacted and is safe to log.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Header     http.Header
}

func newHTTPError(req *http.Request, resp *http.Response, body []byte) *HTTPError {
	return &HTTPError{
		Method:     req.Method,
		URL:        apierror.RedactURL(req.URL.String()),
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("http error: %s %s: status=%d body=%s", e.Method, e.URL, e.StatusCode, body)
}

// IsJSON reports whether the response declared a JSON body.
func (e *HTTPError) IsJSON() bool {
	if e == nil {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(e.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
