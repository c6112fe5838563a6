package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/railgunhq/railgun/internal/homework"
	"github.com/railgunhq/railgun/internal/service"
)

// maxUploadSize caps a handin archive upload.
const maxUploadSize = 32 << 20

type homeworkResponse struct {
	UUID      string             `json:"uuid"`
	Slug      string             `json:"slug"`
	Names     map[string]string  `json:"names"`
	Languages []string           `json:"languages"`
	Deadlines []deadlineResponse `json:"deadlines"`
}

type deadlineResponse struct {
	At    time.Time `json:"at"`
	Scale float64   `json:"scale"`
}

func toHomeworkResponse(hw *homework.Homework) homeworkResponse {
	names := make(map[string]string, len(hw.Infos))
	for _, info := range hw.Infos {
		names[info.Lang] = info.Name
	}
	deadlines := make([]deadlineResponse, 0, len(hw.Deadlines))
	for _, d := range hw.Deadlines {
		deadlines = append(deadlines, deadlineResponse{At: d.At, Scale: d.Scale})
	}
	return homeworkResponse{
		UUID:      hw.UUID,
		Slug:      hw.Slug,
		Names:     names,
		Languages: hw.Languages(),
		Deadlines: deadlines,
	}
}

func (h *Handler) ListHomeworks(w http.ResponseWriter, r *http.Request) {
	items := h.submissionService.Homeworks()
	out := make([]homeworkResponse, 0, len(items))
	for _, hw := range items {
		out = append(out, toHomeworkResponse(hw))
	}
	writeSuccess(w, out)
}

func (h *Handler) GetHomework(w http.ResponseWriter, r *http.Request) {
	hw, err := h.submissionService.GetHomework(chi.URLParam(r, "hwid"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Homework not found")
		return
	}
	writeSuccess(w, toHomeworkResponse(hw))
}

func (h *Handler) SubmitArchive(w http.ResponseWriter, r *http.Request) {
	hwid := chi.URLParam(r, "hwid")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart request")
		return
	}

	lang := r.FormValue("lang")
	userID := r.FormValue("user_id")
	if lang == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "Fields lang and user_id are required")
		return
	}

	file, header, err := r.FormFile("handin")
	if err != nil {
		writeError(w, http.StatusBadRequest, "A handin archive file is required")
		return
	}
	defer file.Close()

	resp, err := h.submissionService.SubmitArchive(
		r.Context(), hwid, lang, userID, header.Filename, file, header.Size)
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SubmitAddress(w http.ResponseWriter, r *http.Request) {
	hwid := chi.URLParam(r, "hwid")

	var req struct {
		UserID  string `json:"user_id"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "Fields user_id and address are required")
		return
	}

	resp, err := h.submissionService.SubmitAddress(r.Context(), hwid, req.UserID, req.Address)
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SubmitData(w http.ResponseWriter, r *http.Request) {
	hwid := chi.URLParam(r, "hwid")

	var req struct {
		UserID string `json:"user_id"`
		Data   string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.Data == "" {
		writeError(w, http.StatusBadRequest, "Fields user_id and data are required")
		return
	}

	resp, err := h.submissionService.SubmitData(r.Context(), hwid, req.UserID, req.Data)
	if err != nil {
		h.handleSubmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetHandin(w http.ResponseWriter, r *http.Request) {
	handin, err := h.handinService.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		if errors.Is(err, service.ErrHandinNotFound) {
			writeError(w, http.StatusNotFound, "Handin not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to load handin")
		writeError(w, http.StatusInternalServerError, "Failed to load handin")
		return
	}
	writeSuccess(w, handin)
}

func (h *Handler) ListHandins(w http.ResponseWriter, r *http.Request) {
	limit := getIntQueryParam(r, "limit", 20)
	offset := getIntQueryParam(r, "offset", 0)

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		handins, err := h.handinService.ListByUser(r.Context(), userID, limit, offset)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to list handins")
			writeError(w, http.StatusInternalServerError, "Failed to list handins")
			return
		}
		writeSuccess(w, handins)
		return
	}
	if hwid := r.URL.Query().Get("hwid"); hwid != "" {
		handins, err := h.handinService.ListByHomework(r.Context(), hwid, limit, offset)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to list handins")
			writeError(w, http.StatusInternalServerError, "Failed to list handins")
			return
		}
		writeSuccess(w, handins)
		return
	}

	writeError(w, http.StatusBadRequest, "Either user_id or hwid query parameter is required")
}

func (h *Handler) handleSubmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrHomeworkNotFound):
		writeError(w, http.StatusNotFound, "Homework not found")
	case errors.Is(err, service.ErrLanguageNotSupported):
		writeError(w, http.StatusBadRequest, "This homework does not accept the given language")
	case errors.Is(err, service.ErrDeadlinePassed):
		writeError(w, http.StatusForbidden, "The final deadline of this homework has passed")
	case errors.Is(err, service.ErrUnsupportedArchive):
		writeError(w, http.StatusBadRequest, "The uploaded file is not a supported archive format")
	default:
		h.logger.Error().Err(err).Msg("Failed to accept handin")
		writeError(w, http.StatusInternalServerError, "Failed to accept handin")
	}
}
