package gateway

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/api"
	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

const handlerContext = "Gateway.proxy"

type Handler struct {
	upstream  *ServiceProxy
	responder *api.Responder
	logger    *slog.Logger
}

func NewHandler(upstream *ServiceProxy, responder *api.Responder, logger *slog.Logger) *Handler {
	return &Handler{
		upstream:  upstream,
		responder: responder,
		logger:    logger,
	}
}

// HandleProxy forwards the request unchanged to the fulfillment service.
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	resp, err := h.upstream.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to forward request", "error", err, "path", path)
		h.responder.Error(w, r, apperr.BadGateway("Upstream service unavailable", handlerContext, apperr.WithCause(err)))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.InfoContext(r.Context(), "request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to copy response body", "error", err)
	}
}
