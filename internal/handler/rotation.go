package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pavelanni/escuela/internal/handler/views"
	"github.com/pavelanni/escuela/internal/rotation"
)

const defaultWeeks = 4

type rotationResponse struct {
	rotation.Assignment
	Weeks []rotation.WeekSlot `json:"weeks"`
}

// rotationParams reads ?week= (0-indexed) and ?seed= with zero defaults.
func rotationParams(r *http.Request) (week, seed int) {
	q := r.URL.Query()
	week, _ = strconv.Atoi(q.Get("week"))
	seed, _ = strconv.Atoi(q.Get("seed"))
	if week < 0 {
		week = 0
	}
	return week, seed
}

func (h *Handler) weeks() int {
	if h.config.Rotation.Weeks > 0 {
		return h.config.Rotation.Weeks
	}
	return defaultWeeks
}

func (h *Handler) buildBoard(r *http.Request) (views.Board, error) {
	staff, err := h.store.ListStaff()
	if err != nil {
		return views.Board{}, err
	}
	week, seed := rotationParams(r)
	pools := rotation.Split(staff, h.config.Rotation)
	return views.Board{
		Assignment: rotation.AssignWeek(staff, h.config.Rotation, seed, week),
		Weeks:      rotation.WeekSlots(time.Now(), h.weeks()),
		InRotation: len(pools.Regulars) + len(pools.Specialists),
	}, nil
}

func (h *Handler) handleRotation(w http.ResponseWriter, r *http.Request) {
	b, err := h.buildBoard(r)
	if err != nil {
		internalError(w, "failed to build rotation", err)
		return
	}
	writeJSON(w, http.StatusOK, rotationResponse{Assignment: b.Assignment, Weeks: b.Weeks})
}

func (h *Handler) handleRotationPage(w http.ResponseWriter, r *http.Request) {
	b, err := h.buildBoard(r)
	if err != nil {
		slog.Error("failed to build rotation", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.RotationPage(b).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
