package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/escuela/internal/metrics"
	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/store"
	"github.com/pavelanni/escuela/internal/submission"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	submit   *submission.Service
	metrics  *metrics.Metrics
	validate *validator.Validate
	config   model.AppConfig
}

// New creates a new Handler. m may be nil.
func New(s *store.Store, svc *submission.Service, m *metrics.Metrics, cfg model.AppConfig) (*Handler, error) {
	if s == nil || svc == nil {
		return nil, errors.New("handler needs a store and a submission service")
	}
	v := validator.New()
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{store: s, submit: svc, metrics: m, validate: v, config: cfg}, nil
}

var (
	staffRoles  = []model.UserRole{model.UserRoleTeacher, model.UserRoleAdmin}
	familyRoles = []model.UserRole{model.UserRoleStudent, model.UserRoleParent}
)

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.With(requireRole(staffRoles...)).Get("/rotation", h.handleRotationPage)

			r.Route("/api", func(r chi.Router) {
				r.Get("/assignments", h.handleListAssignments)
				r.Get("/assignments/{id}", h.handleGetAssignment)
				r.Get("/students/{id}", h.handleGetStudent)
				r.Get("/students/{id}/behavior", h.handleListBehavior)
				r.Get("/evidence/{id}", h.handleGetEvidence)
				r.Get("/portal/feed", h.handlePortalFeed)
				r.Post("/portal/messages", h.handleSendMessage)
				r.Get("/notifications", h.handleListNotifications)
				r.Get("/events", h.handleListEvents)
				r.Get("/settings/fee", h.handleGetFee)

				r.Group(func(r chi.Router) {
					r.Use(requireRole(model.UserRoleStudent))
					r.Post("/assignments/{id}/worksheet", h.handleSubmitWorksheet)
					r.Post("/assignments/{id}/quiz", h.handleSubmitQuiz)
				})

				r.Group(func(r chi.Router) {
					r.Use(requireRole(staffRoles...))
					r.Get("/rotation", h.handleRotation)
					r.Get("/staff", h.handleListStaff)
					r.Post("/staff", h.handleCreateStaff)
					r.Get("/students", h.handleListStudents)
					r.Post("/students", h.handleCreateStudent)
					r.Post("/students/{id}/behavior", h.handleAddBehavior)
					r.Post("/assignments", h.handleCreateAssignment)
					r.Post("/assignments/{id}/background", h.handleUploadBackground)
					r.Post("/notifications", h.handleCreateNotification)
					r.Post("/events", h.handleSaveEvent)
				})

				r.Group(func(r chi.Router) {
					r.Use(requireRole(model.UserRoleAdmin))
					r.Put("/settings/fee", h.handleSetFee)
					r.Post("/staff/import", h.handleImportStaff)
					r.Get("/admin/users", h.handleListUsers)
					r.Post("/admin/users", h.handleCreateUser)
					r.Post("/admin/users/{id}/toggle", h.handleToggleUserActive)
				})
			})
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes p with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into dst and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// validateStruct runs struct validation and writes a 400 listing failed fields.
func (h *Handler) validateStruct(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
		return false
	}
	writeError(w, http.StatusBadRequest, err.Error())
	return false
}

func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// canSeeStudent reports whether the user may read the student's records. Staff
// see everyone; students and parents only their linked student.
func canSeeStudent(u *model.User, studentID int64) bool {
	if u == nil {
		return false
	}
	if isStaff(u) {
		return true
	}
	return u.StudentID != nil && *u.StudentID == studentID
}

func isStaff(u *model.User) bool {
	return u != nil && (u.Role == model.UserRoleTeacher || u.Role == model.UserRoleAdmin)
}
