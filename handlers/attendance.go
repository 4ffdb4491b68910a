package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Marker runs classroom photos and clips through recognition.
// *services.RecognitionService satisfies it.
type Marker interface {
	MarkImages(ctx context.Context, uploads []services.ImageUpload, date, label string) (*services.MarkResult, error)
	MarkVideo(ctx context.Context, src media.FrameSource, date, label string) (*services.MarkResult, error)
}

// Ledger reads and corrects attendance. *services.AttendanceService
// satisfies it.
type Ledger interface {
	Today() string
	ListByDate(ctx context.Context, date string) ([]database.AttendanceEntry, error)
	SetStatus(ctx context.Context, studentID uint, date string, status database.AttendanceStatus, note string, actor *uint) (database.AttendanceEntry, error)
}

// VideoOpener opens an uploaded clip stored at path
type VideoOpener func(path string) (media.FrameSource, error)

// OpenVideoFile is the gocv backed VideoOpener
func OpenVideoFile(path string) (media.FrameSource, error) {
	return media.OpenVideoFile(path)
}

type AttendanceHandler struct {
	Marker         Marker
	Ledger         Ledger
	OpenVideo      VideoOpener
	TempDir        string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

var videoExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)

// Mark handles POST /api/attendance/mark with multipart images[], status
// and an optional date
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, h.MaxUploadBytes); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	headers := formFiles(r, "images[]", "images")
	if len(headers) == 0 {
		WriteAPIError(w, http.StatusBadRequest, "missing_image", "at least one file in 'images[]' is required")
		return
	}
	files, err := readFileHeaders(headers)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}

	uploads := make([]services.ImageUpload, len(files))
	for i, f := range files {
		uploads[i] = services.ImageUpload{Name: f.Name, Data: f.Data}
	}

	res, err := h.Marker.MarkImages(r.Context(), uploads, r.FormValue("date"), r.FormValue("status"))
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MarkVideo handles POST /api/attendance/mark-video with a multipart
// "video". The clip is spooled to a temp file for the decoder.
func (h *AttendanceHandler) MarkVideo(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, h.MaxUploadBytes); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "missing_video", "multipart field 'video' is required")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if !videoExt.MatchString(ext) {
		ext = ".mp4"
	}
	tmp, err := os.CreateTemp(h.TempDir, "attendance-*"+ext)
	if err != nil {
		h.Logger.Error("failed to create temp file for video", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to store video")
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		h.Logger.Error("failed to spool video", zap.String("file", header.Filename), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to store video")
		return
	}
	if err := tmp.Close(); err != nil {
		h.Logger.Error("failed to close spooled video", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "failed to store video")
		return
	}

	open := h.OpenVideo
	if open == nil {
		open = OpenVideoFile
	}
	src, err := open(tmp.Name())
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_video", fmt.Sprintf("could not open video %q: %v", header.Filename, err))
		return
	}
	defer src.Close()

	res, err := h.Marker.MarkVideo(r.Context(), src, r.FormValue("date"), r.FormValue("status"))
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// List handles GET /api/attendance?date=YYYY-MM-DD, defaulting to today
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.Ledger.Today()
	}
	entries, err := h.Ledger.ListByDate(r.Context(), date)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []database.AttendanceEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"date": date, "entries": entries})
}

type AttendanceCorrectionPayload struct {
	Status string `json:"status" validate:"required,oneof=present late absent leave"`
	Note   string `json:"note" validate:"max=500"`
}

// SetStatus handles PUT /api/attendance/{student_id}/{date}, the manual
// correction that overwrites whatever was recorded
func (h *AttendanceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	studentID, err := uintParam(r, "student_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	var payload AttendanceCorrectionPayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	entry, err := h.Ledger.SetStatus(r.Context(), studentID, chi.URLParam(r, "date"),
		database.AttendanceStatus(payload.Status), payload.Note, actorID(r))
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
