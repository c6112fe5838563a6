package httpd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/railgunhq/railgun/internal/models"
	"github.com/railgunhq/railgun/internal/reporting"
	"github.com/railgunhq/railgun/internal/service"
)

// maxRunnerPayload caps a runner report. Outputs larger than this indicate
// a runaway process, not a legitimate score.
const maxRunnerPayload = 4 << 20

// secretAPI decrypts the octet-stream payload of a runner request and hands
// the plaintext to fn. Replies are plain text: "OK" or a short reason the
// runner logs as-is.
func (h *Handler) secretAPI(fn func(r *http.Request, uuid string, payload []byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uuid := chi.URLParam(r, "uuid")

		enc, err := io.ReadAll(io.LimitReader(r.Body, maxRunnerPayload))
		if err != nil {
			writeText(w, http.StatusBadRequest, "could not read request body")
			return
		}
		payload, err := reporting.Decrypt(enc, h.commKey)
		if err != nil {
			h.logger.Warn().Err(err).Str("handin", uuid).
				Msg("Runner request failed to decrypt")
			writeText(w, http.StatusBadRequest, "could not decrypt request")
			return
		}

		if err := fn(r, uuid, payload); err != nil {
			h.logger.Warn().Err(err).Str("handin", uuid).
				Str("path", r.URL.Path).Msg("Runner request rejected")
			writeText(w, runnerStatus(err), err.Error())
			return
		}
		writeText(w, http.StatusOK, "OK")
	}
}

func (h *Handler) StartHandin(r *http.Request, uuid string, payload []byte) error {
	var req models.StartRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.New("malformed start request")
	}
	return h.handinService.Start(r.Context(), uuid, req)
}

func (h *Handler) ReportHandin(r *http.Request, uuid string, payload []byte) error {
	var score models.Score
	if err := json.Unmarshal(payload, &score); err != nil {
		return errors.New("malformed score report")
	}
	return h.handinService.Report(r.Context(), uuid, &score)
}

func (h *Handler) ProclogHandin(r *http.Request, uuid string, payload []byte) error {
	var req models.ProclogRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.New("malformed process log")
	}
	return h.handinService.Proclog(r.Context(), uuid, req)
}

func runnerStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrHandinNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUUIDMismatch),
		errors.Is(err, service.ErrAlreadyRunning),
		errors.Is(err, service.ErrAlreadyFinished):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
