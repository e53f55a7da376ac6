package persistence

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx platform response. The platform reports failures as
// {"error": "..."} bodies; anything else is carried verbatim.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agentpass api: %s (status %d)", e.Message, e.StatusCode)
}

// AsAPIError unwraps err to an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 platform response.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// parseAPIError extracts the platform error message from a failed response.
func parseAPIError(resp *resty.Response) *APIError {
	message := strings.TrimSpace(string(resp.Body()))

	var body struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		message = body.Error
	}
	if message == "" {
		message = resp.Status()
	}

	return &APIError{Message: message, StatusCode: resp.StatusCode()}
}
