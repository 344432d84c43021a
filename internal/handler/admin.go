package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/rotation"
)

type userResponse struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Role        model.UserRole `json:"role"`
	Active      bool           `json:"active"`
	StudentID   *int64         `json:"student_id,omitempty"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		internalError(w, "failed to list users", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{
			ID: u.ID, Username: u.Username, DisplayName: u.DisplayName,
			Role: u.Role, Active: u.Active, StudentID: u.StudentID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password" validate:"required,min=6"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student parent teacher admin"`
	StudentID   *int64         `json:"student_id" validate:"required_if=Role student,required_if=Role parent"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) || !h.validateStruct(w, req) {
		return
	}

	if req.StudentID != nil {
		st, err := h.store.GetStudent(*req.StudentID)
		if err != nil {
			internalError(w, "failed to load student", err)
			return
		}
		if st == nil {
			writeError(w, http.StatusBadRequest, "unknown student")
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		internalError(w, "failed to hash password", err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
		StudentID:    req.StudentID,
	})
	if err != nil {
		slog.Error("failed to create user", "error", err)
		writeError(w, http.StatusConflict, "failed to create user: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		ID: id, Username: req.Username, DisplayName: req.DisplayName,
		Role: req.Role, Active: true, StudentID: req.StudentID,
	})
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		internalError(w, "toggle user", err)
		return
	}
	// A deactivated user must not keep an open session.
	if err := h.store.DeleteUserSessions(id); err != nil {
		slog.Warn("failed to drop sessions", "id", id, "error", err)
	}
	u, err := h.store.GetUserByID(id)
	if err != nil || u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID: u.ID, Username: u.Username, DisplayName: u.DisplayName,
		Role: u.Role, Active: u.Active, StudentID: u.StudentID,
	})
}

// handleImportStaff loads a staff directory JSON file. A file whose content
// was already imported is skipped.
func (h *Handler) handleImportStaff(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}

	file, header, err := r.FormFile("staff_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		internalError(w, "failed to read upload", err)
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.store.GetImportedFileHash(header.Filename)
	if err != nil {
		internalError(w, "failed to check import status", err)
		return
	}
	if storedHash == hash {
		writeJSON(w, http.StatusOK, map[string]any{"imported": 0, "duplicate": true})
		return
	}

	var rows []model.StaffImport
	if err := json.Unmarshal(data, &rows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	for _, si := range rows {
		m := rotation.FromImport(si, h.config.Rotation)
		if !h.validateStruct(w, m) {
			return
		}
		if _, err := h.store.InsertStaff(m); err != nil {
			internalError(w, "failed to insert staff", err)
			return
		}
	}

	if err := h.store.SetImportedFileHash(header.Filename, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}
	slog.Info("imported staff via admin", "filename", header.Filename, "count", len(rows))
	writeJSON(w, http.StatusCreated, map[string]any{"imported": len(rows), "duplicate": false})
}
