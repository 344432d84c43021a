package submission

import (
	"testing"
	"time"

	"github.com/pavelanni/escuela/internal/grading"
	"github.com/pavelanni/escuela/internal/model"
	"github.com/pavelanni/escuela/internal/store"
)

// gatedStore pauses saves for one assignment until release is closed.
type gatedStore struct {
	*store.Store
	gateID  string
	reached chan struct{}
	release chan struct{}
}

func (g *gatedStore) SaveAttempt(studentID int64, assignmentID string, at model.Attempt) error {
	if assignmentID == g.gateID {
		close(g.reached)
		<-g.release
	}
	return g.Store.SaveAttempt(studentID, assignmentID, at)
}

func TestConcurrentAttemptsOnDifferentAssignments(t *testing.T) {
	ctx := testCtx(t)
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sid, err := db.InsertStudent(model.Student{Name: "Ana"})
	if err != nil {
		t.Fatalf("InsertStudent: %v", err)
	}
	for _, a := range []*model.Assignment{zonesAssignment(), quizAssignment()} {
		if err := db.CreateAssignment(*a); err != nil {
			t.Fatalf("CreateAssignment %s: %v", a.ID, err)
		}
	}

	gs := &gatedStore{Store: db, gateID: "q", reached: make(chan struct{}), release: make(chan struct{})}
	svc := New(gs, nil, nil, nil, grading.DefaultOptions())
	svc.now = func() time.Time { return testNow }

	// An earlier failing worksheet attempt leaves a row that a stale save could restore.
	if _, err := svc.SubmitWorksheet(ctx, sid, "ws", model.WorksheetState{ContainerWidth: 200, ContainerHeight: 100}); err != nil {
		t.Fatalf("first worksheet attempt: %v", err)
	}

	quizDone := make(chan error, 1)
	go func() {
		_, err := svc.SubmitQuiz(ctx, sid, "q", []int{1, 0})
		quizDone <- err
	}()
	<-gs.reached

	out, err := svc.SubmitWorksheet(ctx, sid, "ws", model.WorksheetState{
		TextAnswers:     map[string]string{"z1": "gato"},
		SelectedZoneIDs: []string{"z2"},
		ContainerWidth:  200,
		ContainerHeight: 100,
	})
	if err != nil || out.Result == nil || !out.Result.Passed {
		t.Fatalf("passing worksheet attempt = %+v, %v", out, err)
	}
	close(gs.release)
	if err := <-quizDone; err != nil {
		t.Fatalf("SubmitQuiz: %v", err)
	}

	p, err := db.GetProgress(sid)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if v := p.Results["ws"]; v == nil || *v != 10 || !p.Completed["ws"] {
		t.Errorf("worksheet = %v completed=%v, want 10 completed", v, p.Completed["ws"])
	}
	if v := p.Results["q"]; v == nil || *v != 10 || !p.Completed["q"] {
		t.Errorf("quiz = %v completed=%v, want 10 completed", v, p.Completed["q"])
	}
}
