package handler

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/pavelanni/escuela/internal/model"
)

const teacherFeedLimit = 100

// feedStudent picks whose records a request refers to. Families are pinned to
// their linked student; staff name one with ?student_id=.
func feedStudent(r *http.Request) (int64, bool) {
	u := model.UserFromContext(r.Context())
	if u == nil {
		return 0, false
	}
	if slices.Contains(familyRoles, u.Role) {
		if u.StudentID == nil {
			return 0, false
		}
		return *u.StudentID, true
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("student_id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// handlePortalFeed returns everything a parent's client shows. Clients re-fetch
// it every poll_interval_seconds and replace their list wholesale.
func (h *Handler) handlePortalFeed(w http.ResponseWriter, r *http.Request) {
	u := model.UserFromContext(r.Context())
	studentID, ok := feedStudent(r)

	feed := model.PortalFeed{PollIntervalSeconds: int(h.config.PollInterval.Seconds())}
	var err error
	switch {
	case ok:
		feed.Messages, err = h.store.ListMessages(studentID)
	case slices.Contains(staffRoles, u.Role):
		// Without a student, staff see the latest messages addressed to teachers.
		feed.Messages, err = h.store.ListMessagesByChannel(model.ChannelTeacher, teacherFeedLimit)
	default:
		writeError(w, http.StatusForbidden, "account is not linked to a student")
		return
	}
	if err != nil {
		internalError(w, "failed to list messages", err)
		return
	}
	feed.Notifications, err = h.store.ListNotifications(studentID)
	if err != nil {
		internalError(w, "failed to list notifications", err)
		return
	}
	if feed.Messages == nil {
		feed.Messages = []model.Message{}
	}
	if feed.Notifications == nil {
		feed.Notifications = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, feed)
}

type sendMessageRequest struct {
	StudentID int64  `json:"student_id"`
	Content   string `json:"content"`
}

// handleSendMessage posts a message. Families write to the teacher channel;
// staff write to the parent channel of the named student.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	u := model.UserFromContext(r.Context())
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m := model.Message{Sender: u.DisplayName, Content: req.Content}
	if slices.Contains(familyRoles, u.Role) {
		if u.StudentID == nil {
			writeError(w, http.StatusForbidden, "account is not linked to a student")
			return
		}
		m.StudentID = *u.StudentID
		m.Channel = model.ChannelTeacher
	} else {
		m.StudentID = req.StudentID
		m.Channel = model.ChannelParent
	}
	if !h.validateStruct(w, m) {
		return
	}

	st, err := h.store.GetStudent(m.StudentID)
	if err != nil {
		internalError(w, "failed to get student", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "student not found")
		return
	}
	m.ID, err = h.store.AddMessage(m)
	if err != nil {
		internalError(w, "failed to add message", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	studentID, _ := feedStudent(r)
	list, err := h.store.ListNotifications(studentID)
	if err != nil {
		internalError(w, "failed to list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type notificationRequest struct {
	StudentID *int64 `json:"student_id"`
	Title     string `json:"title" validate:"required"`
	Body      string `json:"body"`
}

func (h *Handler) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if !decodeJSON(w, r, &req) || !h.validateStruct(w, req) {
		return
	}
	n := model.Notification{StudentID: req.StudentID, Title: req.Title, Body: req.Body}
	id, err := h.store.AddNotification(n)
	if err != nil {
		internalError(w, "failed to add notification", err)
		return
	}
	n.ID = id
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListEvents()
	if err != nil {
		internalError(w, "failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	var e model.Event
	if !decodeJSON(w, r, &e) || !h.validateStruct(w, e) {
		return
	}
	id, err := h.store.SaveEvent(e)
	if err != nil {
		internalError(w, "failed to save event", err)
		return
	}
	status := http.StatusCreated
	if e.ID != 0 {
		status = http.StatusOK
	}
	e.ID = id
	writeJSON(w, status, e)
}

type feeRequest struct {
	Cost *float64 `json:"cost" validate:"required,gte=0"`
}

func (h *Handler) handleGetFee(w http.ResponseWriter, r *http.Request) {
	cost, err := h.store.FeeCost()
	if err != nil {
		internalError(w, "failed to get fee", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"cost": cost})
}

func (h *Handler) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if !decodeJSON(w, r, &req) || !h.validateStruct(w, req) {
		return
	}
	if err := h.store.SetFeeCost(*req.Cost); err != nil {
		internalError(w, "failed to set fee", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"cost": *req.Cost})
}
