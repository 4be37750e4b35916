// Package api holds the JSON envelope shared by the HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func NewPagination(page, limit int, total int64) *Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return &Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

type Responder struct {
	logger     *slog.Logger
	production bool
}

func NewResponder(logger *slog.Logger, production bool) *Responder {
	return &Responder{
		logger:     logger,
		production: production,
	}
}

func (rs *Responder) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rs.logger.Error("failed to encode response", "error", err)
	}
}

func (rs *Responder) Success(w http.ResponseWriter, status int, message string, data any) {
	rs.JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func (rs *Responder) Page(w http.ResponseWriter, message string, data any, p *Pagination) {
	rs.JSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data, Pagination: p})
}

// Error renders err through the taxonomy translator.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	out := apperr.Render(err, r.Method, r.URL.Path, rs.production)

	attrs := []any{"status", out.Status, "method", r.Method, "path", r.URL.Path, "error", err}
	if e, ok := apperr.From(err); ok && e.Cause != nil {
		attrs = append(attrs, "cause", e.Cause)
	}
	if out.Status >= http.StatusInternalServerError {
		rs.logger.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		rs.logger.InfoContext(r.Context(), "request rejected", attrs...)
	}

	for k, v := range out.Headers {
		w.Header().Set(k, v)
	}
	rs.JSON(w, out.Status, out.Body)
}

// Decode reads a JSON body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("Request body is required", "")
		}
		return apperr.BadRequest("Invalid request body", "", apperr.WithData(map[string]any{"detail": err.Error()}))
	}
	return nil
}

// QueryInt parses an integer query parameter, returning def when it is absent.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.BadRequest("Query parameter "+key+" must be an integer", "")
	}
	return n, nil
}
