package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a response with a non-2xx status. The body is retained so
// callers can log what the upstream actually said.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
}

// IsNotFoundErr reports whether err is a 404 response.
func IsNotFoundErr(err error) bool {
	var respErr *Error
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
