// Package googleapi decodes the envelopes shared by Google REST APIs: the
// structured error body returned on non-2xx responses and plain JSON
// payloads whose decode failures need line/column context.
package googleapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goheros/datastore_sdk_go/internal/httpx"
	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

// Status is the body of a Google API error response:
//
//	{"error": {"code": 401, "message": "...", "status": "UNAUTHENTICATED"}}
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ParseError decodes a Google API error body. It fails when the body is not
// JSON or carries no error object.
func ParseError(body []byte) (*Status, error) {
	var envelope struct {
		Error *Status `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &envelope); err != nil {
		return nil, err
	}
	if envelope.Error == nil {
		return nil, errors.New("googleapi: body has no error object")
	}
	return envelope.Error, nil
}

// ErrorFromResponse maps a non-2xx response onto the typed error taxonomy.
// A parsable error body is surfaced verbatim as a remote error; anything else
// becomes a structural error describing the parse failure and the body text.
func ErrorFromResponse(statusCode int, body []byte) *apierror.Error {
	status, err := ParseError(body)
	if err != nil {
		e := apierror.Structural("failed to parse error response (HTTP %d): %v; response: %s",
			statusCode, err, bytes.TrimSpace(body))
		e.Err = err
		return e
	}
	code := status.Code
	if code == 0 {
		code = statusCode
	}
	text := status.Status
	if text == "" {
		text = http.StatusText(code)
	}
	return apierror.Remote(code, status.Message, text)
}

// ErrorFromHTTP maps a rejected call onto the typed error taxonomy. Bodies
// declared as something other than JSON, such as a proxy's HTML page, are
// quoted without attempting to parse them.
func ErrorFromHTTP(httpErr *httpx.HTTPError) *apierror.Error {
	body := bytes.TrimSpace(httpErr.Body)
	if len(body) > 0 && httpErr.Header.Get("Content-Type") != "" && !httpErr.IsJSON() {
		return apierror.Structural("non-JSON error response (HTTP %d, %s): %s",
			httpErr.StatusCode, httpErr.Header.Get("Content-Type"), body)
	}
	return ErrorFromResponse(httpErr.StatusCode, httpErr.Body)
}

// Decode unmarshals data into out. Failures are returned as structural
// errors that name the line and column of the offending byte when the JSON
// decoder reports an offset.
func Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return JSONError(data, err)
	}
	return nil
}

// JSONError wraps a decode failure of data into a structural error.
func JSONError(data []byte, err error) *apierror.Error {
	offset, ok := errorOffset(err)
	if !ok {
		e := apierror.Structural("JSON_ERROR: %v", err)
		e.Err = err
		return e
	}
	line, column := position(data, offset)
	e := apierror.Structural("JSON_ERROR: %v (line %d, column %d)", err, line, column)
	e.Err = err
	return e
}

// errorOffset returns the index of the offending byte. The decoder reports
// how many bytes it consumed, including that byte.
func errorOffset(err error) (int64, bool) {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return 0, false
	}
	if offset > 0 {
		offset--
	}
	return offset, true
}

// position converts the index of a byte in data into a 1-based line and
// column. Indexes past the end point at the last byte.
func position(data []byte, index int64) (line, column int) {
	if index >= int64(len(data)) {
		index = int64(len(data)) - 1
	}
	if index < 0 {
		index = 0
	}
	prefix := data[:index]
	line = bytes.Count(prefix, []byte("\n")) + 1
	column = int(index) - bytes.LastIndexByte(prefix, '\n')
	return line, column
}
