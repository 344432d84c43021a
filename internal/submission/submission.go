// Package submission runs a student's attempt end to end: load the assignment,
// grade it, store an evidence image, record progress and notify the teacher.
//
// Only missing input data and failures to load the assignment abort an attempt.
// Everything after scoring starts fails open: the student is never left stuck on
// an assignment because of a grading or storage fault.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/escuela/internal/evidence"
	"github.com/pavelanni/escuela/internal/grading"
	"github.com/pavelanni/escuela/internal/i18n"
	"github.com/pavelanni/escuela/internal/llm"
	"github.com/pavelanni/escuela/internal/metrics"
	"github.com/pavelanni/escuela/internal/model"
)

var (
	ErrNotFound          = errors.New("assignment not found")
	ErrStudentNotFound   = errors.New("student not found")
	ErrGradingInProgress = errors.New("a submission for this assignment is already being graded")
	errNoGrader          = errors.New("model-assisted grading is not configured")
)

// Store is the persistence the service needs.
type Store interface {
	GetAssignment(id string) (*model.Assignment, error)
	GetBackground(id string) ([]byte, error)
	GetStudent(id int64) (*model.Student, error)
	SaveAttempt(studentID int64, assignmentID string, at model.Attempt) error
	InsertEvidence(e model.Evidence) error
}

// Grader scores a rendered worksheet image.
type Grader interface {
	GradeWorksheet(ctx context.Context, imageDataURL, title, criteria string) (*llm.WorksheetGrade, error)
}

// Notifier queues a message for the teacher.
type Notifier interface {
	Enqueue(m model.Message) bool
}

// Service grades submissions. The zero value is not usable; use New.
type Service struct {
	store    Store
	grader   Grader
	notifier Notifier
	metrics  *metrics.Metrics
	opts     grading.Options
	now      func() time.Time

	inFlight sync.Map
}

// New creates a Service. grader, notifier and m may be nil.
func New(s Store, grader Grader, notifier Notifier, m *metrics.Metrics, opts grading.Options) *Service {
	return &Service{
		store:    s,
		grader:   grader,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// acquire marks the student+assignment pair busy. The returned func releases it.
func (s *Service) acquire(studentID int64, assignmentID string) (func(), error) {
	key := fmt.Sprintf("%d/%s", studentID, assignmentID)
	if _, busy := s.inFlight.LoadOrStore(key, struct{}{}); busy {
		return nil, ErrGradingInProgress
	}
	return func() { s.inFlight.Delete(key) }, nil
}

func (s *Service) load(studentID int64, assignmentID string, want model.AssignmentType) (*model.Assignment, *model.Student, error) {
	a, err := s.store.GetAssignment(assignmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load assignment %s: %w", assignmentID, err)
	}
	if a == nil {
		return nil, nil, ErrNotFound
	}
	if a.Type != want {
		return nil, nil, grading.ErrWrongType
	}
	st, err := s.store.GetStudent(studentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load student %d: %w", studentID, err)
	}
	if st == nil {
		return nil, nil, ErrStudentNotFound
	}
	return a, st, nil
}

// SubmitWorksheet grades a worksheet attempt.
func (s *Service) SubmitWorksheet(ctx context.Context, studentID int64, assignmentID string, state model.WorksheetState) (*model.SubmissionOutcome, error) {
	release, err := s.acquire(studentID, assignmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, st, err := s.load(studentID, assignmentID, model.AssignmentWorksheet)
	if err != nil {
		return nil, err
	}

	mode := a.Mode
	if mode == model.ModeUnset {
		mode = grading.ResolveMode(a.Worksheet)
	}
	if err := checkInteractive(a, mode); err != nil {
		return nil, err
	}

	out := &model.SubmissionOutcome{AssignmentID: a.ID, Mode: mode}
	png := s.storeEvidence(a, studentID, state, out)

	raw, err := s.score(ctx, a, mode, state, png)
	if err != nil {
		slog.Error("worksheet grading failed", "assignment_id", a.ID, "student_id", studentID, "mode", mode, "error", err)
		return s.failOpen(ctx, st, a, out), nil
	}
	return s.record(ctx, st, a, raw, out), nil
}

// SubmitQuiz grades a quiz attempt. answers[i] is the chosen option index for
// question i.
func (s *Service) SubmitQuiz(ctx context.Context, studentID int64, assignmentID string, answers []int) (*model.SubmissionOutcome, error) {
	release, err := s.acquire(studentID, assignmentID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, st, err := s.load(studentID, assignmentID, model.AssignmentQuiz)
	if err != nil {
		return nil, err
	}
	if a.Quiz == nil || len(a.Quiz.Questions) == 0 {
		return nil, grading.ErrNoQuestions
	}

	out := &model.SubmissionOutcome{AssignmentID: a.ID}
	raw, err := grading.ScoreQuiz(ctx, a.Quiz, answers)
	if err != nil {
		slog.Error("quiz grading failed", "assignment_id", a.ID, "student_id", studentID, "error", err)
		return s.failOpen(ctx, st, a, out), nil
	}
	return s.record(ctx, st, a, raw, out), nil
}

func checkInteractive(a *model.Assignment, mode model.GradingMode) error {
	ws := a.Worksheet
	switch mode {
	case model.ModeZones:
		if ws == nil || len(ws.Zones) == 0 {
			return grading.ErrNoInteractiveData
		}
	case model.ModeGeometric:
		if ws == nil || len(ws.AnswerKeyPoints) == 0 {
			return grading.ErrNoInteractiveData
		}
	case model.ModeModel:
		if !a.HasBackground {
			return grading.ErrNoInteractiveData
		}
	default:
		return fmt.Errorf("unknown grading mode %q", mode)
	}
	return nil
}

// storeEvidence composes and saves the evidence image, setting out.EvidenceID on
// success. It returns the encoded PNG, or nil when encoding failed.
func (s *Service) storeEvidence(a *model.Assignment, studentID int64, state model.WorksheetState, out *model.SubmissionOutcome) []byte {
	var bg []byte
	if a.HasBackground {
		var err error
		bg, err = s.store.GetBackground(a.ID)
		if err != nil {
			slog.Warn("load worksheet background", "assignment_id", a.ID, "error", err)
		}
	}

	comp := evidence.Compose(bg, a.Worksheet, state)
	if comp.Degraded {
		slog.Warn("evidence composed without background", "assignment_id", a.ID)
	}
	png, err := evidence.EncodePNG(comp)
	if err != nil {
		slog.Error("encode evidence", "assignment_id", a.ID, "error", err)
		return nil
	}

	id := uuid.NewString()
	err = s.store.InsertEvidence(model.Evidence{ID: id, StudentID: studentID, AssignmentID: a.ID, PNG: png})
	if err != nil {
		slog.Error("store evidence", "assignment_id", a.ID, "error", err)
		return png
	}
	out.EvidenceID = id
	return png
}

func (s *Service) score(ctx context.Context, a *model.Assignment, mode model.GradingMode, state model.WorksheetState, png []byte) (grading.Raw, error) {
	switch mode {
	case model.ModeZones:
		return grading.ScoreZones(ctx, a.Worksheet.Zones, state, s.opts)
	case model.ModeGeometric:
		return grading.ScoreMarkers(ctx, a.Worksheet.AnswerKeyPoints, state.StudentMarks)
	}
	if s.grader == nil {
		return grading.Raw{}, errNoGrader
	}
	if len(png) == 0 {
		return grading.Raw{}, errors.New("no evidence image to grade")
	}
	g, err := s.grader.GradeWorksheet(ctx, evidence.DataURL(png), a.Title, a.Criteria)
	if err != nil {
		return grading.Raw{}, err
	}
	return grading.Raw{Score: g.Score, Feedback: g.Feedback}, nil
}

// record finalizes the raw score and persists the attempt.
func (s *Service) record(ctx context.Context, st *model.Student, a *model.Assignment, raw grading.Raw, out *model.SubmissionOutcome) *model.SubmissionOutcome {
	res := grading.Finalize(ctx, raw, *a, s.now())

	if err := s.store.SaveAttempt(st.ID, a.ID, grading.AttemptFor(&res)); err != nil {
		slog.Error("save progress", "assignment_id", a.ID, "student_id", st.ID, "error", err)
		return s.failOpen(ctx, st, a, out)
	}

	out.Result = &res
	s.metrics.Submission(modeLabel(a, out.Mode), res.Passed, res.Score)

	// The notice is read by the teacher, not the student who submitted.
	tctx := i18n.WithDefault(ctx)
	status := i18n.T(tctx, "Failed")
	if res.Passed {
		status = i18n.T(tctx, "Passed")
	}
	s.notify(st, i18n.Td(tctx, "SubmissionNotice", map[string]any{
		"Student": st.Name,
		"Title":   a.Title,
		"Score":   fmt.Sprintf("%.1f", res.Score),
		"Status":  status,
	}))
	return out
}

// failOpen completes the assignment without a score.
func (s *Service) failOpen(ctx context.Context, st *model.Student, a *model.Assignment, out *model.SubmissionOutcome) *model.SubmissionOutcome {
	out.Result = nil
	out.FailedOpen = true
	s.metrics.FailOpen()

	if err := s.store.SaveAttempt(st.ID, a.ID, grading.AttemptFor(nil)); err != nil {
		slog.Error("fail-open save", "assignment_id", a.ID, "student_id", st.ID, "error", err)
	}

	tctx := i18n.WithDefault(ctx)
	s.notify(st, i18n.Td(tctx, "SubmissionNotice", map[string]any{
		"Student": st.Name,
		"Title":   a.Title,
		"Score":   "-",
		"Status":  i18n.T(tctx, "CompletedWithoutScore"),
	}))
	return out
}

func (s *Service) notify(st *model.Student, content string) {
	if s.notifier == nil {
		return
	}
	msg := model.Message{
		StudentID: st.ID,
		Sender:    st.Name,
		Channel:   model.ChannelTeacher,
		Content:   content,
	}
	if !s.notifier.Enqueue(msg) {
		s.metrics.NotificationDropped()
	}
}

func modeLabel(a *model.Assignment, mode model.GradingMode) string {
	if a.Type == model.AssignmentQuiz {
		return "quiz"
	}
	return string(mode)
}
