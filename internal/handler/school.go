package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/escuela/internal/evidence"
	"github.com/pavelanni/escuela/internal/grading"
	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/rotation"
	"github.com/pavelanni/escuela/internal/submission"
)

const maxBackgroundSize = 8 << 20

func (h *Handler) handleListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.store.ListStaff()
	if err != nil {
		internalError(w, "failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (h *Handler) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var si model.StaffImport
	if !decodeJSON(w, r, &si) {
		return
	}
	m := rotation.FromImport(si, h.config.Rotation)
	if !h.validateStruct(w, m) {
		return
	}
	id, err := h.store.InsertStaff(m)
	if err != nil {
		internalError(w, "failed to insert staff", err)
		return
	}
	m.ID = id
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		internalError(w, "failed to list students", err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var st model.Student
	if !decodeJSON(w, r, &st) || !h.validateStruct(w, st) {
		return
	}
	id, err := h.store.InsertStudent(st)
	if err != nil {
		internalError(w, "failed to insert student", err)
		return
	}
	created, err := h.store.GetStudent(id)
	if err != nil || created == nil {
		internalError(w, "failed to reload student", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student ID")
		return
	}
	if !canSeeStudent(model.UserFromContext(r.Context()), id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	st, err := h.store.GetStudent(id)
	if err != nil {
		internalError(w, "failed to get student", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "student not found")
		return
	}
	p, err := h.store.GetProgress(id)
	if err != nil {
		internalError(w, "failed to get progress", err)
		return
	}
	writeJSON(w, http.StatusOK, model.StudentView{Student: *st, Progress: p})
}

func (h *Handler) handleListBehavior(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student ID")
		return
	}
	if !canSeeStudent(model.UserFromContext(r.Context()), id) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	logs, err := h.store.ListBehaviorLogs(id)
	if err != nil {
		internalError(w, "failed to list behavior logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleAddBehavior(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid student ID")
		return
	}
	var b model.BehaviorLog
	if !decodeJSON(w, r, &b) {
		return
	}
	b.StudentID = id
	if !h.validateStruct(w, b) {
		return
	}
	st, err := h.store.GetStudent(id)
	if err != nil {
		internalError(w, "failed to get student", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "student not found")
		return
	}
	b.ID, err = h.store.AddBehaviorLog(b)
	if err != nil {
		internalError(w, "failed to add behavior log", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Students and parents get assignments without the answer key; grading
// happens here, never on the client.
func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListAssignments()
	if err != nil {
		internalError(w, "failed to list assignments", err)
		return
	}
	if isStaff(model.UserFromContext(r.Context())) {
		writeJSON(w, http.StatusOK, list)
		return
	}
	public := make([]model.PublicAssignment, 0, len(list))
	for _, a := range list {
		public = append(public, a.Public())
	}
	writeJSON(w, http.StatusOK, public)
}

func (h *Handler) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetAssignment(chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "failed to get assignment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "assignment not found")
		return
	}
	if !isStaff(model.UserFromContext(r.Context())) {
		writeJSON(w, http.StatusOK, a.Public())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var a model.Assignment
	if !decodeJSON(w, r, &a) || !h.validateStruct(w, a) {
		return
	}

	switch a.Type {
	case model.AssignmentQuiz:
		if a.Quiz == nil || len(a.Quiz.Questions) == 0 {
			writeError(w, http.StatusUnprocessableEntity, grading.ErrNoQuestions.Error())
			return
		}
		for _, q := range a.Quiz.Questions {
			if q.CorrectIndex >= len(q.Options) {
				writeError(w, http.StatusBadRequest, "correct_index out of range in question "+q.Text)
				return
			}
		}
		a.Mode = model.ModeUnset
	case model.AssignmentWorksheet:
		if a.Worksheet != nil && !h.validateStruct(w, a.Worksheet) {
			return
		}
		if a.Mode == model.ModeUnset {
			a.Mode = grading.ResolveMode(a.Worksheet)
		}
	}

	a.ID = uuid.NewString()
	a.HasBackground = false
	if err := h.store.CreateAssignment(a); err != nil {
		internalError(w, "failed to create assignment", err)
		return
	}
	slog.Info("assignment created", "id", a.ID, "type", a.Type, "mode", a.Mode)

	created, err := h.store.GetAssignment(a.ID)
	if err != nil || created == nil {
		internalError(w, "failed to reload assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUploadBackground(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBackgroundSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBackgroundSize))
	if err != nil {
		internalError(w, "failed to read upload", err)
		return
	}
	if ct := http.DetectContentType(data); ct != "image/png" && ct != "image/jpeg" {
		writeError(w, http.StatusUnsupportedMediaType, "background must be PNG or JPEG, got "+ct)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.SetBackground(id, data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "assignment not found")
			return
		}
		internalError(w, "failed to store background", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quizRequest struct {
	Answers []int `json:"answers"`
}

func (h *Handler) handleSubmitWorksheet(w http.ResponseWriter, r *http.Request) {
	studentID, ok := linkedStudent(w, r)
	if !ok {
		return
	}
	var state model.WorksheetState
	if !decodeJSON(w, r, &state) {
		return
	}
	if state.ContainerWidth < 0 || state.ContainerHeight < 0 ||
		state.ContainerWidth > evidence.MaxSide || state.ContainerHeight > evidence.MaxSide {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("container size must be between 0 and %d px", evidence.MaxSide))
		return
	}
	out, err := h.submit.SubmitWorksheet(r.Context(), studentID, chi.URLParam(r, "id"), state)
	h.writeOutcome(w, out, err)
}

func (h *Handler) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	studentID, ok := linkedStudent(w, r)
	if !ok {
		return
	}
	var req quizRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.submit.SubmitQuiz(r.Context(), studentID, chi.URLParam(r, "id"), req.Answers)
	h.writeOutcome(w, out, err)
}

func linkedStudent(w http.ResponseWriter, r *http.Request) (int64, bool) {
	u := model.UserFromContext(r.Context())
	if u == nil || u.StudentID == nil {
		writeError(w, http.StatusForbidden, "account is not linked to a student")
		return 0, false
	}
	return *u.StudentID, true
}

func (h *Handler) writeOutcome(w http.ResponseWriter, out *model.SubmissionOutcome, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, grading.ErrNoInteractiveData), errors.Is(err, grading.ErrNoQuestions):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, grading.ErrWrongType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, submission.ErrNotFound), errors.Is(err, submission.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, submission.ErrGradingInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		internalError(w, "submission failed", err)
	}
}

func (h *Handler) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.GetEvidence(chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "failed to get evidence", err)
		return
	}
	if e == nil || !canSeeStudent(model.UserFromContext(r.Context()), e.StudentID) {
		writeError(w, http.StatusNotFound, "evidence not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="evidencia-`+e.AssignmentID+`.png"`)
	if _, err := w.Write(e.PNG); err != nil {
		slog.Error("write evidence", "error", err)
	}
}
