package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/query"
)

const (
	headerCurrentPage = "X-Current-Page"
	headerLastPage    = "X-Last-Page"
	headerPerPage     = "X-Per-Page"
	headerTotal       = "X-Total"
)

type errorBody struct {
	Error     string              `json:"error"`
	Kind      apierr.Kind         `json:"kind,omitempty"`
	Errors    map[string][]string `json:"errors,omitempty"`
	Step      *int                `json:"step,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeMessage answers with a bare error message for failures outside the
// pipeline taxonomy (405, 429).
func writeMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg, RequestID: RequestIDFromContext(r)})
}

// writeError classifies err and renders it. Internal details of storage
// failures are logged, never returned.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.From(err)
	if e.Kind == apierr.KindStorage {
		a.log.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r)),
			zap.String("route", r.URL.Path),
			zap.Error(err))
	}
	if e.Kind == apierr.KindUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="restgen"`)
	}
	writeJSON(w, e.Status(), errorBody{
		Error:     e.PublicMessage(),
		Kind:      e.PublicKind(),
		Errors:    e.Fields,
		Step:      e.Step,
		RequestID: RequestIDFromContext(r),
	})
}

func writePage(w http.ResponseWriter, p query.Page) {
	h := w.Header()
	h.Set(headerCurrentPage, strconv.Itoa(p.Current))
	h.Set(headerLastPage, strconv.Itoa(p.Last))
	h.Set(headerPerPage, strconv.Itoa(p.PerPage))
	h.Set(headerTotal, strconv.Itoa(p.Total))
}

func markDegraded(w http.ResponseWriter, degraded bool) {
	if degraded {
		w.Header().Set(headerAuditDegraded, "true")
	}
}

// decodeJSON reads exactly one JSON value into dst.
func decodeJSON(r *http.Request, dst any, strict bool) error {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("request body too large")
		}
		return badRequest("malformed JSON: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badRequest("unexpected data after JSON body")
	}
	return nil
}

func badRequest(msg string) *apierr.Error { return apierr.New(apierr.KindBadRequest, msg) }
