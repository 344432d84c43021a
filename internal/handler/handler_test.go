package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/escuela/internal/grading"
	appI18n "github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/rotation"
	"github.com/pavelanni/escuela/internal/store"
	"github.com/pavelanni/escuela/internal/submission"
)

const testCSRF = "test-csrf-token"

type testEnv struct {
	t      *testing.T
	store  *store.Store
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("es"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := model.AppConfig{
		PollInterval: 10 * time.Second,
		Rotation: model.RotationConfig{
			FixedSpace:  "Puerta",
			FixedPerson: "Rosa Méndez",
			Spaces:      []string{"Patio", "Baños"},
			Directors:   []string{"Laura Gómez"},
		},
	}
	svc := submission.New(s, nil, nil, nil, grading.DefaultOptions())
	h, err := New(s, svc, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("es"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	return &testEnv{t: t, store: s, router: r}
}

// login creates a user with the given role and returns a session cookie for it.
func (e *testEnv) login(username string, role model.UserRole, studentID *int64) *http.Cookie {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secreto"), bcrypt.MinCost)
	if err != nil {
		e.t.Fatalf("hash: %v", err)
	}
	id, err := e.store.CreateUser(model.User{
		Username: username, DisplayName: username, PasswordHash: string(hash),
		Role: role, Active: true, StudentID: studentID,
	})
	if err != nil {
		e.t.Fatalf("CreateUser: %v", err)
	}
	token, err := e.store.CreateAuthSession(id)
	if err != nil {
		e.t.Fatalf("CreateAuthSession: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func (e *testEnv) do(method, path string, body any, session *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(csrfHeaderName, testCSRF)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) student(name string) int64 {
	e.t.Helper()
	id, err := e.store.InsertStudent(model.Student{Name: name, Grade: "2", Group: "B"})
	if err != nil {
		e.t.Fatalf("InsertStudent: %v", err)
	}
	return id
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.login("maestra", model.UserRoleTeacher, nil)

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"correct password", "secreto", http.StatusOK},
		{"wrong password", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/login", loginRequest{Username: "maestra", Password: tt.password}, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			var gotSession bool
			for _, c := range rec.Result().Cookies() {
				if c.Name == sessionCookieName && c.Value != "" {
					gotSession = true
				}
			}
			if gotSession != (tt.want == http.StatusOK) {
				t.Errorf("session cookie issued = %v", gotSession)
			}
		})
	}

	t.Run("error is localized", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/login", loginRequest{Username: "nadie", Password: "x"}, nil)
		if !strings.Contains(rec.Body.String(), "Usuario o contraseña incorrectos.") {
			t.Errorf("body = %s", rec.Body.String())
		}
	})
}

func TestCSRFRequired(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/students", strings.NewReader(`{"name":"Ana"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(teacher)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAuthAndRoles(t *testing.T) {
	env := newTestEnv(t)
	sid := env.student("Ana")
	parent := env.login("papa", model.UserRoleParent, &sid)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)
	other := env.student("Beto")

	tests := []struct {
		name    string
		method  string
		path    string
		session *http.Cookie
		want    int
	}{
		{"api without session", http.MethodGet, "/api/students", nil, http.StatusUnauthorized},
		{"page without session", http.MethodGet, "/rotation", nil, http.StatusSeeOther},
		{"parent lists students", http.MethodGet, "/api/students", parent, http.StatusForbidden},
		{"parent reads own child", http.MethodGet, "/api/students/" + itoa(sid), parent, http.StatusOK},
		{"parent reads other child", http.MethodGet, "/api/students/" + itoa(other), parent, http.StatusForbidden},
		{"teacher reads any child", http.MethodGet, "/api/students/" + itoa(other), teacher, http.StatusOK},
		{"teacher cannot set fee", http.MethodPut, "/api/settings/fee", teacher, http.StatusForbidden},
		{"teacher cannot submit quiz", http.MethodPost, "/api/assignments/x/quiz", teacher, http.StatusForbidden},
		{"teacher sees rotation page", http.MethodGet, "/rotation", teacher, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, nil, tt.session)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestDeactivatedUserLosesSession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login("admin", model.UserRoleAdmin, nil)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)

	users := decode[[]userResponse](t, env.do(http.MethodGet, "/api/admin/users", nil, admin))
	var teacherID int64
	for _, u := range users {
		if u.Username == "maestra" {
			teacherID = u.ID
		}
	}
	rec := env.do(http.MethodPost, "/api/admin/users/"+itoa(teacherID)+"/toggle", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[userResponse](t, rec); got.Active {
		t.Error("expected inactive user")
	}
	if rec := env.do(http.MethodGet, "/api/students", nil, teacher); rec.Code != http.StatusUnauthorized {
		t.Errorf("deactivated teacher status = %d, want 401", rec.Code)
	}
}

func TestCreateStudentValidation(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)

	rec := env.do(http.MethodPost, "/api/students", model.Student{Grade: "1"}, teacher)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	fields, _ := body["fields"].(map[string]any)
	if fields["Student.name"] != "required" {
		t.Errorf("fields = %v", fields)
	}

	rec = env.do(http.MethodPost, "/api/students", model.Student{Name: "Carla", Grade: "1"}, teacher)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.Student](t, rec); got.ID == 0 || got.Name != "Carla" {
		t.Errorf("created = %+v", got)
	}
}

func TestQuizSubmissionFlow(t *testing.T) {
	env := newTestEnv(t)
	sid := env.student("Ana")
	teacher := env.login("maestra", model.UserRoleTeacher, nil)
	student := env.login("ana", model.UserRoleStudent, &sid)

	rec := env.do(http.MethodPost, "/api/assignments", model.Assignment{
		Title: "Restas",
		Type:  model.AssignmentQuiz,
		Quiz: &model.Quiz{Questions: []model.QuizQuestion{
			{Text: "3-1", Options: []string{"2", "1"}, CorrectIndex: 0},
			{Text: "5-2", Options: []string{"2", "3"}, CorrectIndex: 1},
		}},
	}, teacher)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	a := decode[model.Assignment](t, rec)
	if a.ID == "" {
		t.Fatal("assignment has no ID")
	}

	rec = env.do(http.MethodPost, "/api/assignments/"+a.ID+"/quiz", quizRequest{Answers: []int{0, 0}}, student)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[model.SubmissionOutcome](t, rec)
	if out.Result == nil || out.Result.Score != 5 || out.Result.Passed {
		t.Fatalf("outcome = %+v", out)
	}

	view := decode[model.StudentView](t, env.do(http.MethodGet, "/api/students/"+itoa(sid), nil, student))
	if view.Progress.Completed[a.ID] {
		t.Error("failed quiz must stay open")
	}
	if s := view.Progress.Results[a.ID]; s == nil || *s != 5 {
		t.Errorf("recorded score = %v", s)
	}

	rec = env.do(http.MethodPost, "/api/assignments/missing/quiz", quizRequest{}, student)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing assignment status = %d", rec.Code)
	}
}

func TestWorksheetWithoutZonesIsRejected(t *testing.T) {
	env := newTestEnv(t)
	sid := env.student("Ana")
	teacher := env.login("maestra", model.UserRoleTeacher, nil)
	student := env.login("ana", model.UserRoleStudent, &sid)

	a := decode[model.Assignment](t, env.do(http.MethodPost, "/api/assignments", model.Assignment{
		Title: "Vacía", Type: model.AssignmentWorksheet, Mode: model.ModeZones, Worksheet: &model.Worksheet{},
	}, teacher))

	rec := env.do(http.MethodPost, "/api/assignments/"+a.ID+"/worksheet", model.WorksheetState{}, student)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAssignmentResolvesMode(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)

	rec := env.do(http.MethodPost, "/api/assignments", model.Assignment{
		Title: "Mapa", Type: model.AssignmentWorksheet,
		Worksheet: &model.Worksheet{AnswerKeyPoints: []model.Point{{X: 1, Y: 2}}},
	}, teacher)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if a := decode[model.Assignment](t, rec); a.Mode != model.ModeGeometric {
		t.Errorf("mode = %q, want geometric", a.Mode)
	}
}

func TestStaffAndRotation(t *testing.T) {
	env := newTestEnv(t)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)

	for _, si := range []model.StaffImport{
		{Name: "Pedro Ruiz", Role: "Docente", Group: "1A"},
		{Name: "Marta Díaz", Role: "Docente", Group: "2A"},
		{Name: "Héctor Vega", Role: "Educación Física"},
		{Name: "Laura Gómez", Role: "Directora"},
		{Name: "Rosa Méndez", Role: "Docente"},
	} {
		if rec := env.do(http.MethodPost, "/api/staff", si, teacher); rec.Code != http.StatusCreated {
			t.Fatalf("create staff %s: %d %s", si.Name, rec.Code, rec.Body.String())
		}
	}

	staff := decode[[]model.StaffMember](t, env.do(http.MethodGet, "/api/staff", nil, teacher))
	categories := map[string]model.StaffCategory{}
	for _, m := range staff {
		categories[m.Name] = m.Category
	}
	if categories["Héctor Vega"] != model.CategorySpecialist || categories["Laura Gómez"] != model.CategoryExcluded {
		t.Errorf("categories = %v", categories)
	}

	rec := env.do(http.MethodGet, "/api/rotation?week=0&seed=0", nil, teacher)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotation status = %d", rec.Code)
	}
	got := decode[rotationResponse](t, rec)
	if len(got.Weeks) != defaultWeeks {
		t.Errorf("weeks = %d", len(got.Weeks))
	}
	if fixed := got.Lookup("Puerta"); len(fixed) != 1 || fixed[0].Name != "Rosa Méndez" {
		t.Errorf("fixed space = %+v", fixed)
	}
	placed := 0
	for _, sa := range got.Spaces {
		for _, s := range sa.Staff {
			if s.Name == "Laura Gómez" {
				t.Error("director must not be assigned")
			}
			placed++
		}
	}
	// Rosa in the fixed space, plus Pedro, Marta and Héctor rotating.
	if placed != 4 {
		t.Errorf("placed = %d, want 4", placed)
	}
	if n := len(rotation.Split(staff, model.RotationConfig{FixedPerson: "Rosa Méndez"}).Specialists); n != 1 {
		t.Errorf("specialists = %d, want 1", n)
	}
}

func TestPortalFeedAndMessages(t *testing.T) {
	env := newTestEnv(t)
	sid := env.student("Ana")
	parent := env.login("mama", model.UserRoleParent, &sid)
	teacher := env.login("maestra", model.UserRoleTeacher, nil)

	if rec := env.do(http.MethodPost, "/api/portal/messages", sendMessageRequest{Content: "¿Hay tarea?"}, parent); rec.Code != http.StatusCreated {
		t.Fatalf("parent message: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/api/portal/messages", sendMessageRequest{StudentID: sid, Content: "Sí, la página 12"}, teacher); rec.Code != http.StatusCreated {
		t.Fatalf("teacher message: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/api/notifications", notificationRequest{Title: "Junta de padres"}, teacher); rec.Code != http.StatusCreated {
		t.Fatalf("notification: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, "/api/portal/messages", sendMessageRequest{Content: ""}, parent); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}

	feed := decode[model.PortalFeed](t, env.do(http.MethodGet, "/api/portal/feed", nil, parent))
	if feed.PollIntervalSeconds != 10 {
		t.Errorf("poll interval = %d", feed.PollIntervalSeconds)
	}
	if len(feed.Messages) != 2 {
		t.Fatalf("messages = %+v", feed.Messages)
	}
	if feed.Messages[0].Channel != model.ChannelTeacher || feed.Messages[1].Channel != model.ChannelParent {
		t.Errorf("channels = %s, %s", feed.Messages[0].Channel, feed.Messages[1].Channel)
	}
	if len(feed.Notifications) != 1 {
		t.Errorf("notifications = %+v", feed.Notifications)
	}
}

func TestEventsAndFee(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login("admin", model.UserRoleAdmin, nil)

	if rec := env.do(http.MethodPost, "/api/events", model.Event{Title: "Kermés", Date: "10/05/2024"}, admin); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/events", model.Event{Title: "Kermés", Date: "2024-05-10"}, admin); rec.Code != http.StatusCreated {
		t.Fatalf("event: %d %s", rec.Code, rec.Body.String())
	}
	events := decode[[]model.Event](t, env.do(http.MethodGet, "/api/events", nil, admin))
	if len(events) != 1 || events[0].Title != "Kermés" {
		t.Errorf("events = %+v", events)
	}

	cost := 450.0
	if rec := env.do(http.MethodPut, "/api/settings/fee", feeRequest{Cost: &cost}, admin); rec.Code != http.StatusOK {
		t.Fatalf("set fee: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string]float64](t, env.do(http.MethodGet, "/api/settings/fee", nil, admin))
	if got["cost"] != 450 {
		t.Errorf("fee = %v", got)
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestAssignmentKeyHiddenFromFamilies(t *testing.T) {
	env := newTestEnv(t)
	sid := env.student("Ana")
	teacher := env.login("maestra", model.UserRoleTeacher, nil)
	student := env.login("ana", model.UserRoleStudent, &sid)
	parent := env.login("papa.ana", model.UserRoleParent, &sid)

	quiz := decode[model.Assignment](t, env.do(http.MethodPost, "/api/assignments", model.Assignment{
		Title: "Restas",
		Type:  model.AssignmentQuiz,
		Quiz: &model.Quiz{Questions: []model.QuizQuestion{
			{Text: "3-1", Options: []string{"1", "2"}, CorrectIndex: 1},
		}},
	}, teacher))
	ws := decode[model.Assignment](t, env.do(http.MethodPost, "/api/assignments", model.Assignment{
		Title: "Animales",
		Type:  model.AssignmentWorksheet,
		Mode:  model.ModeZones,
		Worksheet: &model.Worksheet{
			Zones: []model.InteractiveZone{
				{ID: "t", Type: model.ZoneTextInput, X: 5, Y: 5, Width: 10, Height: 5, CorrectAnswer: "gato"},
				{ID: "s", Type: model.ZoneSelectable, X: 20, Y: 20, Width: 10, Height: 10, IsCorrect: true},
				{ID: "src", Type: model.ZoneMatchSource, X: 40, Y: 40, Width: 5, Height: 5, MatchID: "par-1"},
			},
			AnswerKeyPoints: []model.Point{{X: 12, Y: 34}},
		},
	}, teacher))

	keyFields := []string{"correct_index", "correct_answer", "is_correct", "match_id", "answer_key_points", "gato", "par-1"}
	paths := []string{"/api/assignments", "/api/assignments/" + quiz.ID, "/api/assignments/" + ws.ID}

	for _, who := range []struct {
		name    string
		session *http.Cookie
	}{{"student", student}, {"parent", parent}} {
		for _, path := range paths {
			t.Run(who.name+" "+path, func(t *testing.T) {
				rec := env.do(http.MethodGet, path, nil, who.session)
				if rec.Code != http.StatusOK {
					t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
				}
				body := rec.Body.String()
				for _, k := range keyFields {
					if strings.Contains(body, k) {
						t.Errorf("response leaks %q: %s", k, body)
					}
				}
			})
		}
	}

	got := decode[model.PublicAssignment](t, env.do(http.MethodGet, "/api/assignments/"+quiz.ID, nil, student))
	if got.Quiz == nil || len(got.Quiz.Questions) != 1 || got.Quiz.Questions[0].Text != "3-1" || len(got.Quiz.Questions[0].Options) != 2 {
		t.Errorf("student quiz view = %+v", got.Quiz)
	}
	gotWS := decode[model.PublicAssignment](t, env.do(http.MethodGet, "/api/assignments/"+ws.ID, nil, student))
	if gotWS.Worksheet == nil || len(gotWS.Worksheet.Zones) != 3 || gotWS.Worksheet.Zones[0].ID != "t" {
		t.Errorf("student worksheet view = %+v", gotWS.Worksheet)
	}

	staffView := decode[model.Assignment](t, env.do(http.MethodGet, "/api/assignments/"+quiz.ID, nil, teacher))
	if staffView.Quiz == nil || staffView.Quiz.Questions[0].CorrectIndex != 1 {
		t.Errorf("teacher should see the key, got %+v", staffView.Quiz)
	}
}

func TestWorksheetRejectsOversizedContainer(t *testing.T) {
	env := newTestEnv(t)
	sid := env.student("Ana")
	teacher := env.login("maestra", model.UserRoleTeacher, nil)
	student := env.login("ana", model.UserRoleStudent, &sid)

	a := decode[model.Assignment](t, env.do(http.MethodPost, "/api/assignments", model.Assignment{
		Title: "Colores", Type: model.AssignmentWorksheet, Mode: model.ModeZones,
		Worksheet: &model.Worksheet{Zones: []model.InteractiveZone{
			{ID: "t", Type: model.ZoneTextInput, X: 5, Y: 5, Width: 10, Height: 5, CorrectAnswer: "rojo"},
		}},
	}, teacher))

	tests := []struct {
		name string
		w, h float64
		want int
	}{
		{"too wide", 12000, 600, http.StatusBadRequest},
		{"too tall", 800, 5000, http.StatusBadRequest},
		{"negative", -1, 600, http.StatusBadRequest},
		{"at the limit", 4096, 200, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/assignments/"+a.ID+"/worksheet", model.WorksheetState{
				TextAnswers:     map[string]string{"t": "rojo"},
				ContainerWidth:  tt.w,
				ContainerHeight: tt.h,
			}, student)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
