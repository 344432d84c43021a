package store

import (
	"database/sql"
	"testing"

	"github.com/pavelanni/escuela/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestStudent(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.InsertStudent(model.Student{Name: name, Grade: "3", Group: "A"})
	if err != nil {
		t.Fatalf("insertTestStudent: %v", err)
	}
	return id
}

func f(v float64) *float64 { return &v }

func TestUsersAndSessions(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	sid := insertTestStudent(t, s, "Diego")
	id, err := s.CreateUser(model.User{
		Username: "mama.diego", DisplayName: "Mamá de Diego", PasswordHash: "x",
		Role: model.UserRoleParent, Active: true, StudentID: &sid,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("mama.diego")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleParent {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.StudentID == nil || *u.StudentID != sid {
		t.Errorf("expected student link %d, got %v", sid, u.StudentID)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing user, got %v, %v", missing, err)
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("expected user inactive after toggle")
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if su, err := s.SessionUser(token); err != nil || su != nil {
		t.Errorf("SessionUser for inactive user = %+v, %v; want nil", su, err)
	}
	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	su, err := s.SessionUser(token)
	if err != nil || su == nil || su.ID != id || su.StudentID == nil {
		t.Fatalf("SessionUser: %+v, %v", su, err)
	}
	if su, _ := s.SessionUser("bogus"); su != nil {
		t.Error("expected nil for unknown token")
	}
	if err := s.DeleteUserSessions(id); err != nil {
		t.Fatalf("DeleteUserSessions: %v", err)
	}
	if su, _ := s.SessionUser(token); su != nil {
		t.Error("expected session removed")
	}
	if n, err := s.CleanupExpiredSessions(); err != nil || n != 0 {
		t.Errorf("CleanupExpiredSessions = %d, %v; want 0", n, err)
	}
}

func TestStaffRoundTrip(t *testing.T) {
	s := newTestStore(t)
	for _, m := range []model.StaffMember{
		{Name: "Pedro Ruiz", Role: "Docente", Group: "1B", Category: model.CategoryRegular},
		{Name: "Héctor Vega", Role: "Educación Física", Category: model.CategorySpecialist},
	} {
		if _, err := s.InsertStaff(m); err != nil {
			t.Fatalf("InsertStaff: %v", err)
		}
	}
	staff, err := s.ListStaff()
	if err != nil {
		t.Fatalf("ListStaff: %v", err)
	}
	if len(staff) != 2 {
		t.Fatalf("expected 2 staff, got %d", len(staff))
	}
	if staff[0].Name != "Pedro Ruiz" || staff[1].Category != model.CategorySpecialist {
		t.Errorf("unexpected staff %+v", staff)
	}
}

func TestProgressPersistence(t *testing.T) {
	s := newTestStore(t)
	sid := insertTestStudent(t, s, "Lucía")

	p, err := s.GetProgress(sid)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if len(p.Results) != 0 || len(p.Completed) != 0 {
		t.Fatalf("expected empty progress, got %+v", p)
	}

	steps := []struct {
		name          string
		id            string
		at            model.Attempt
		wantScore     *float64
		wantCompleted bool
	}{
		{"failed attempt", "quiz-1", model.Attempt{Score: f(4)}, f(4), false},
		{"passing retry", "quiz-1", model.Attempt{Score: f(8), Completed: true}, f(8), true},
		{"failed attempt after pass stays completed", "quiz-1", model.Attempt{Score: f(3)}, f(3), true},
		{"fail-open on a new assignment", "ws-1", model.Attempt{Completed: true}, nil, true},
		{"scored then fail-open keeps score", "ws-2", model.Attempt{Score: f(5)}, f(5), false},
		{"fail-open after score", "ws-2", model.Attempt{Completed: true}, f(5), true},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			if err := s.SaveAttempt(sid, st.id, st.at); err != nil {
				t.Fatalf("SaveAttempt: %v", err)
			}
			got, err := s.GetProgress(sid)
			if err != nil {
				t.Fatalf("GetProgress: %v", err)
			}
			v, ok := got.Results[st.id]
			switch {
			case !ok:
				t.Errorf("%s not recorded", st.id)
			case st.wantScore == nil && v != nil:
				t.Errorf("%s score = %v, want nil", st.id, *v)
			case st.wantScore != nil && (v == nil || *v != *st.wantScore):
				t.Errorf("%s score = %v, want %v", st.id, v, *st.wantScore)
			}
			if got.Completed[st.id] != st.wantCompleted {
				t.Errorf("%s completed = %v, want %v", st.id, got.Completed[st.id], st.wantCompleted)
			}
		})
	}

	// Each attempt only touches its own row.
	got, _ := s.GetProgress(sid)
	if v := got.Results["quiz-1"]; v == nil || *v != 3 || !got.Completed["quiz-1"] {
		t.Errorf("quiz-1 disturbed by later attempts: %v completed=%v", v, got.Completed["quiz-1"])
	}
}

func TestAssignmentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	a := model.Assignment{
		ID:             "a-1",
		Title:          "Los animales",
		Type:           model.AssignmentWorksheet,
		Mode:           model.ModeZones,
		DueDate:        "2024-03-01",
		MinScoreToPass: f(7),
		Worksheet: &model.Worksheet{Zones: []model.InteractiveZone{
			{ID: "z1", Type: model.ZoneTextInput, X: 10, Y: 10, Width: 20, Height: 5, CorrectAnswer: "gato"},
		}},
	}
	if err := s.CreateAssignment(a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	got, err := s.GetAssignment("a-1")
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if got.Title != a.Title || got.Mode != model.ModeZones || got.DueDate != "2024-03-01" {
		t.Errorf("unexpected assignment %+v", got)
	}
	if got.MinScoreToPass == nil || *got.MinScoreToPass != 7 {
		t.Errorf("min score = %v", got.MinScoreToPass)
	}
	if got.Worksheet == nil || len(got.Worksheet.Zones) != 1 || got.Worksheet.Zones[0].CorrectAnswer != "gato" {
		t.Errorf("worksheet definition lost: %+v", got.Worksheet)
	}
	if got.HasBackground {
		t.Error("no background uploaded yet")
	}

	if err := s.SetBackground("a-1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetBackground: %v", err)
	}
	bg, err := s.GetBackground("a-1")
	if err != nil || len(bg) != 3 {
		t.Errorf("GetBackground = %v, %v", bg, err)
	}
	got, _ = s.GetAssignment("a-1")
	if !got.HasBackground {
		t.Error("expected HasBackground after upload")
	}

	if err := s.SetBackground("missing", []byte{1}); err != sql.ErrNoRows {
		t.Errorf("SetBackground(missing) = %v, want ErrNoRows", err)
	}

	none, err := s.GetAssignment("missing")
	if err != nil || none != nil {
		t.Errorf("expected nil, nil for missing assignment, got %v, %v", none, err)
	}

	list, err := s.ListAssignments()
	if err != nil || len(list) != 1 {
		t.Errorf("ListAssignments = %d, %v", len(list), err)
	}
}

func TestEvidence(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertEvidence(model.Evidence{ID: "e1", StudentID: 1, AssignmentID: "a", PNG: []byte("png")}); err != nil {
		t.Fatalf("InsertEvidence: %v", err)
	}
	e, err := s.GetEvidence("e1")
	if err != nil || e == nil || string(e.PNG) != "png" {
		t.Fatalf("GetEvidence = %+v, %v", e, err)
	}
	e, err = s.GetEvidence("nope")
	if err != nil || e != nil {
		t.Errorf("expected nil, nil, got %v, %v", e, err)
	}
}

func TestPortalRecords(t *testing.T) {
	s := newTestStore(t)
	sid := insertTestStudent(t, s, "Mateo")
	other := insertTestStudent(t, s, "Valeria")

	for _, m := range []model.Message{
		{StudentID: sid, Sender: "Maestra", Channel: model.ChannelParent, Content: "Reunión el viernes"},
		{StudentID: sid, Sender: "Mamá", Channel: model.ChannelTeacher, Content: "Enterada"},
		{StudentID: other, Sender: "Maestra", Channel: model.ChannelParent, Content: "Otro"},
	} {
		if _, err := s.AddMessage(m); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	msgs, err := s.ListMessages(sid)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "Reunión el viernes" {
		t.Errorf("unexpected messages %+v", msgs)
	}
	teacher, _ := s.ListMessagesByChannel(model.ChannelTeacher, 10)
	if len(teacher) != 1 {
		t.Errorf("expected 1 teacher message, got %d", len(teacher))
	}

	if _, err := s.AddNotification(model.Notification{Title: "Suspensión de clases"}); err != nil {
		t.Fatalf("AddNotification: %v", err)
	}
	if _, err := s.AddNotification(model.Notification{StudentID: &other, Title: "Solo Valeria"}); err != nil {
		t.Fatalf("AddNotification: %v", err)
	}
	notes, _ := s.ListNotifications(sid)
	if len(notes) != 1 {
		t.Errorf("expected only the school-wide notification, got %d", len(notes))
	}
	notes, _ = s.ListNotifications(other)
	if len(notes) != 2 {
		t.Errorf("expected 2 notifications for Valeria, got %d", len(notes))
	}

	id, err := s.SaveEvent(model.Event{Title: "Kermés", Date: "2024-05-10"})
	if err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if _, err := s.SaveEvent(model.Event{ID: id, Title: "Kermés escolar", Date: "2024-05-11"}); err != nil {
		t.Fatalf("SaveEvent update: %v", err)
	}
	if _, err := s.SaveEvent(model.Event{Title: "Honores", Date: "2024-05-06"}); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	events, _ := s.ListEvents()
	if len(events) != 2 || events[0].Title != "Honores" || events[1].Title != "Kermés escolar" {
		t.Errorf("unexpected events %+v", events)
	}

	if _, err := s.AddBehaviorLog(model.BehaviorLog{StudentID: sid, Kind: "positive", Note: "Ayudó a un compañero"}); err != nil {
		t.Fatalf("AddBehaviorLog: %v", err)
	}
	logs, _ := s.ListBehaviorLogs(sid)
	if len(logs) != 1 || logs[0].Kind != "positive" {
		t.Errorf("unexpected logs %+v", logs)
	}
}

func TestSettingsAndImports(t *testing.T) {
	s := newTestStore(t)

	cost, err := s.FeeCost()
	if err != nil || cost != 0 {
		t.Fatalf("FeeCost unset = %v, %v", cost, err)
	}
	if err := s.SetFeeCost(350.5); err != nil {
		t.Fatalf("SetFeeCost: %v", err)
	}
	cost, _ = s.FeeCost()
	if cost != 350.5 {
		t.Errorf("FeeCost = %v, want 350.5", cost)
	}

	h, err := s.GetImportedFileHash("staff.json")
	if err != nil || h != "" {
		t.Fatalf("GetImportedFileHash = %q, %v", h, err)
	}
	if err := s.SetImportedFileHash("staff.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	h, _ = s.GetImportedFileHash("staff.json")
	if h != "abc" {
		t.Errorf("hash = %q", h)
	}
}

func TestExportResults(t *testing.T) {
	s := newTestStore(t)
	sid := insertTestStudent(t, s, "Sofía")
	insertTestStudent(t, s, "Bruno")
	if err := s.CreateAssignment(model.Assignment{ID: "q", Title: "Tablas", Type: model.AssignmentQuiz}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	if err := s.SaveAttempt(sid, "q", model.Attempt{Score: f(9), Completed: true}); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}

	exp, err := s.ExportResults("Primaria Benito Juárez")
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if len(exp.Students) != 2 {
		t.Fatalf("expected 2 students, got %d", len(exp.Students))
	}
	// Students are ordered by name: Bruno, Sofía.
	if len(exp.Students[0].Results) != 0 {
		t.Errorf("Bruno should have no results")
	}
	r := exp.Students[1].Results
	if len(r) != 1 || r[0].Title != "Tablas" || !r[0].Completed || *r[0].Score != 9 {
		t.Errorf("unexpected results %+v", r)
	}
}
