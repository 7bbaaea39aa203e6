package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/obs"
	"sourcedesk.io/internal/portal"
)

// deniedMessage is the only thing a refused link holder learns.
const deniedMessage = "link is invalid or has expired"

var errBodyTooLarge = errors.New("request body too large")

func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeDenied sends the same body for every denial reason. The request id
// stays in the X-Request-ID header only, so bodies are byte-identical.
func writeDenied(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error": deniedMessage,
	})
}

func handleLinkError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, magiclink.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, magiclink.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "link or client not found")
	case errors.Is(err, magiclink.ErrConflict):
		writeError(w, r, http.StatusConflict, "could not allocate a unique link, retry")
	default:
		handleStoreError(w, r, err)
	}
}

func handlePortalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, portal.ErrDenied):
		writeDenied(w)
	case errors.Is(err, portal.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		handleStoreError(w, r, err)
	}
}

// handleStoreError covers failures that are not the caller's fault.
func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, magiclink.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed",
			slog.String("path", obs.CanonicalPath(r.URL.Path)),
			slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
