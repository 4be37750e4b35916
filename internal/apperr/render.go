package apperr

import (
	"net/http"
	"time"
)

var statusByKind = map[Kind]int{
	KindBadRequest:          http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindUnprocessableEntity: http.StatusUnprocessableEntity,
	KindTooManyRequests:     http.StatusTooManyRequests,
	KindInternal:            http.StatusInternalServerError,
	KindBadGateway:          http.StatusBadGateway,
	KindServiceUnavailable:  http.StatusServiceUnavailable,
}

const internalMessage = "Internal server error"

// StatusCode maps a kind to its HTTP status. Unrecognized kinds are Internal.
func StatusCode(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type Response struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Error      string         `json:"error"`
	Timestamp  string         `json:"timestamp"`
	Path       string         `json:"path"`
	Method     string         `json:"method"`
	Data       map[string]any `json:"data,omitempty"`
	Debug      *Debug         `json:"debug,omitempty"`
}

type Debug struct {
	Cause string `json:"cause,omitempty"`
	Stack string `json:"stack,omitempty"`
}

type Rendered struct {
	Status  int
	Headers map[string]string
	Body    Response
}

// Render translates err into the transport representation. Debug detail is
// attached only when production is false.
func Render(err error, method, path string, production bool) Rendered {
	return render(err, method, path, production, time.Now().UTC())
}

func render(err error, method, path string, production bool, now time.Time) Rendered {
	e, ok := From(err)
	if !ok {
		e = &Error{Kind: KindInternal, Message: internalMessage, Cause: err}
		if !production && err != nil {
			e.Message = err.Error()
		}
	}

	status := StatusCode(e.Kind)
	body := Response{
		StatusCode: status,
		Message:    e.Error(),
		Error:      http.StatusText(status),
		Timestamp:  now.Format(time.RFC3339),
		Path:       path,
		Method:     method,
		Data:       e.Data,
	}

	if !production {
		debug := &Debug{Stack: e.Stack()}
		if e.Cause != nil {
			debug.Cause = e.Cause.Error()
		}
		if debug.Cause != "" || debug.Stack != "" {
			body.Debug = debug
		}
	}

	return Rendered{
		Status:  status,
		Headers: e.Headers,
		Body:    body,
	}
}
