package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 1 << 20

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeJSON reads a collaborator response. A 2xx body is unmarshalled into
// dst, unwrapping a {"data": ...} envelope when present. Anything else goes
// through ParseResponseError. The body is always closed.
func DecodeJSON(resp *http.Response, dst any, serviceName string) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", serviceName, err)
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && len(env.Data) > 0 {
		body = env.Data
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: decode body: %w", serviceName, err)
	}
	return nil
}

// ParseResponseError turns a non-2xx response into an error. Structured
// {"error": {...}} bodies keep their message; the body is consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return mapDownstreamError(resp.StatusCode, env.Error.Code, env.Error.Message, serviceName)
	}
	return mapDownstreamError(resp.StatusCode, "", string(body), serviceName)
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status >= 500:
		return apperrors.Unavailable(fmt.Errorf("%s returned %d %s: %s", serviceName, status, code, message))
	default:
		if code == "" {
			code = "DOWNSTREAM_ERROR"
		}
		return &apperrors.AppError{Code: code, Message: qualified, Status: status}
	}
}
