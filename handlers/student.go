package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/services"
	"github.com/camden-git/attendancebackend/workers"
	"go.uber.org/zap"
)

// StudentManager is the student registry. *services.StudentService
// satisfies it.
type StudentManager interface {
	Create(ctx context.Context, rollNumber, fullName string) (*models.Student, error)
	List(ctx context.Context) ([]models.Student, error)
	Get(ctx context.Context, id uint) (*models.Student, error)
	Delete(ctx context.Context, id uint) error
}

// SampleManager lists and removes retained face samples.
// *services.GalleryService satisfies it.
type SampleManager interface {
	ListSamples(ctx context.Context, studentID uint) ([]models.FaceSample, error)
	RemoveSample(ctx context.Context, sampleID uint) (*models.GalleryEntry, error)
}

// FaceEnroller enrolls one photo. *services.RecognitionService satisfies it.
type FaceEnroller interface {
	Enroll(ctx context.Context, studentID uint, r io.Reader) (*services.EnrollResult, error)
}

// BatchEnroller enrolls photos of many students. *workers.EnrollmentProcessor
// satisfies it.
type BatchEnroller interface {
	EnrollBatch(ctx context.Context, requests []workers.EnrollRequest) []workers.ImageOutcome
}

type StudentHandler struct {
	Students       StudentManager
	Samples        SampleManager
	Enroller       FaceEnroller
	Batch          BatchEnroller
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type StudentCreatePayload struct {
	RollNumber string `json:"roll_number" validate:"required,max=64"`
	FullName   string `json:"full_name" validate:"required,max=255"`
}

// CreateStudent handles POST /api/students
func (h *StudentHandler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var payload StudentCreatePayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	student, err := h.Students.Create(r.Context(), payload.RollNumber, payload.FullName)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

// ListStudents handles GET /api/students
func (h *StudentHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Students.List(r.Context())
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if students == nil {
		students = []models.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

// GetStudent handles GET /api/students/{student_id}
func (h *StudentHandler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "student_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	student, err := h.Students.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

// DeleteStudent handles DELETE /api/students/{student_id}
func (h *StudentHandler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "student_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if err := h.Students.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnrollFace handles POST /api/students/{student_id}/faces with one
// multipart "image"
func (h *StudentHandler) EnrollFace(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "student_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if err := parseMultipart(w, r, h.MaxUploadBytes); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "missing_image", "multipart field 'image' is required")
		return
	}
	defer file.Close()

	res, err := h.Enroller.Enroll(r.Context(), id, file)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListFaces handles GET /api/students/{student_id}/faces
func (h *StudentHandler) ListFaces(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "student_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if _, err := h.Students.Get(r.Context(), id); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	samples, err := h.Samples.ListSamples(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if samples == nil {
		samples = []models.FaceSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// DeleteFace handles DELETE /api/faces/{sample_id}. The response carries the
// rebuilt gallery entry, or null when no samples remain.
func (h *StudentHandler) DeleteFace(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "sample_id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	entry, err := h.Samples.RemoveSample(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gallery": entry})
}

// EnrollBatch handles POST /api/enrollments. Fields are
// enrollments[i].student_id and enrollments[i].images for i = 0, 1, ...
func (h *StudentHandler) EnrollBatch(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, h.MaxUploadBytes); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}

	var requests []workers.EnrollRequest
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("enrollments[%d]", i)
		rawID, ok := r.MultipartForm.Value[prefix+".student_id"]
		if !ok || len(rawID) == 0 {
			break
		}
		studentID, err := strconv.ParseUint(rawID[0], 10, 32)
		if err != nil || studentID == 0 {
			WriteAPIError(w, http.StatusBadRequest, "invalid_id", fmt.Sprintf("%s.student_id must be a positive integer", prefix))
			return
		}
		headers := formFiles(r, prefix+".images", prefix+".images[]")
		if len(headers) == 0 {
			WriteAPIError(w, http.StatusBadRequest, "missing_image", fmt.Sprintf("%s.images is required", prefix))
			return
		}
		files, err := readFileHeaders(headers)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_form", err.Error())
			return
		}
		req := workers.EnrollRequest{StudentID: uint(studentID)}
		for _, f := range files {
			req.Images = append(req.Images, workers.EnrollImage{Name: f.Name, Data: f.Data})
		}
		requests = append(requests, req)
	}
	if len(requests) == 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", "at least one enrollments[i].student_id is required")
		return
	}

	outcomes := h.Batch.EnrollBatch(r.Context(), requests)
	enrolled := 0
	for _, o := range outcomes {
		if o.Err == nil {
			enrolled++
		}
	}
	h.Logger.Info("batch enrollment finished", zap.Int("students", len(requests)), zap.Int("images", len(outcomes)), zap.Int("enrolled", enrolled))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enrolled": enrolled,
		"failed":   len(outcomes) - enrolled,
		"results":  outcomes,
	})
}
