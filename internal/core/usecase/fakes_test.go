package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
)

type submissionRepoFake struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.PendingSubmission
	moves  []domain.SubmissionUpdate

	// createErr fails every Create after createOK successful ones.
	createErr error
	createOK  int
	created   int
}

func newSubmissionRepoFake(rows ...domain.PendingSubmission) *submissionRepoFake {
	f := &submissionRepoFake{rows: map[int64]domain.PendingSubmission{}}
	for _, row := range rows {
		f.rows[row.ID] = row
		f.nextID = max(f.nextID, row.ID)
	}
	return f
}

func (f *submissionRepoFake) Create(_ context.Context, sub *domain.PendingSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil && f.created >= f.createOK {
		return f.createErr
	}
	f.created++
	f.nextID++
	sub.ID = f.nextID
	f.rows[sub.ID] = *sub
	return nil
}

func (f *submissionRepoFake) GetByID(_ context.Context, id int64) (*domain.PendingSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get submission", fmt.Errorf("submission %d", id))
	}
	return &row, nil
}

func (f *submissionRepoFake) ListByIDs(_ context.Context, ids []int64) ([]domain.PendingSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.PendingSubmission{}
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *submissionRepoFake) ListByAssignment(_ context.Context, assignmentID int64, statuses ...domain.SubmissionStatus) ([]domain.PendingSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.PendingSubmission{}
	for _, row := range f.rows {
		if row.AssignmentID != assignmentID {
			continue
		}
		for _, s := range statuses {
			if row.Status == s {
				out = append(out, row)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *submissionRepoFake) Update(_ context.Context, id int64, u domain.SubmissionUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update submission", fmt.Errorf("submission %d", id))
	}
	if row.Status != u.From {
		return domain.WrapError(domain.ErrInvalidTransition, "update submission", &domain.TransitionError{From: string(row.Status), To: string(u.To)})
	}
	row.Status = u.To
	if u.OCRText != nil {
		row.OCRText = *u.OCRText
	}
	if u.ErrorMessage != nil {
		row.ErrorMessage = *u.ErrorMessage
	}
	if u.MatchedStudentID != nil {
		v := *u.MatchedStudentID
		row.MatchedStudentID = &v
	}
	f.rows[id] = row
	f.moves = append(f.moves, u)
	return nil
}

func (f *submissionRepoFake) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete submission", fmt.Errorf("submission %d", id))
	}
	delete(f.rows, id)
	return nil
}

func (f *submissionRepoFake) count(status domain.SubmissionStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.Status == status {
			n++
		}
	}
	return n
}

func (f *submissionRepoFake) get(id int64) domain.PendingSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type essayRepoFake struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]domain.Essay
	subs    *submissionRepoFake
	history map[int64][]domain.EssayStatus
}

func newEssayRepoFake(rows ...domain.Essay) *essayRepoFake {
	f := &essayRepoFake{rows: map[int64]domain.Essay{}, history: map[int64][]domain.EssayStatus{}}
	for _, row := range rows {
		f.rows[row.ID] = row
		f.nextID = max(f.nextID, row.ID)
	}
	return f
}

func (f *essayRepoFake) GetByID(_ context.Context, id int64) (*domain.Essay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get essay", fmt.Errorf("essay %d", id))
	}
	return &row, nil
}

func (f *essayRepoFake) ListByIDs(_ context.Context, ids []int64) ([]domain.Essay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Essay{}
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *essayRepoFake) Update(_ context.Context, id int64, u domain.EssayUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update essay", fmt.Errorf("essay %d", id))
	}
	if row.Status != u.From {
		return domain.WrapError(domain.ErrInvalidTransition, "update essay", &domain.TransitionError{From: string(row.Status), To: string(u.To)})
	}
	row.Status = u.To
	if u.Content != nil {
		row.Content = *u.Content
	}
	if u.AIScore != nil {
		score := *u.AIScore
		row.AIScore = &score
	}
	if u.FinalScore != nil {
		v := *u.FinalScore
		row.FinalScore = &v
	}
	if u.ErrorMessage != nil {
		row.ErrorMessage = *u.ErrorMessage
	}
	f.rows[id] = row
	f.history[id] = append(f.history[id], u.To)
	return nil
}

func (f *essayRepoFake) CreateFromSubmission(ctx context.Context, submissionID int64, essay *domain.Essay) (int64, error) {
	if f.subs != nil {
		sub, err := f.subs.GetByID(ctx, submissionID)
		if err != nil {
			return 0, err
		}
		if sub.Status != domain.SubmissionMatchCompleted {
			return 0, domain.WrapError(domain.ErrInvalidTransition, "create essay", fmt.Errorf("submission %d is %s", submissionID, sub.Status))
		}
		if err := f.subs.Delete(ctx, submissionID); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	essay.ID = f.nextID
	f.rows[essay.ID] = *essay
	return essay.ID, nil
}

func (f *essayRepoFake) ListGradeRows(_ context.Context, assignmentID int64) ([]domain.GradeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.GradeRow{}
	for _, row := range f.rows {
		if row.AssignmentID == assignmentID {
			out = append(out, domain.GradeRow{EssayID: row.ID, Status: row.Status, FinalScore: row.FinalScore, Result: row.AIScore})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EssayID < out[j].EssayID })
	return out, nil
}

func (f *essayRepoFake) get(id int64) domain.Essay {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failFor map[string]int
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}, failFor: map[string]int{}}
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = raw
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[key] > 0 {
		s.failFor[key]--
		return nil, fmt.Errorf("transient read error")
	}
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", fmt.Errorf("%s", key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *storageFake) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type dispatcherFake struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (d *dispatcherFake) Dispatch(_ context.Context, job domain.Job) (domain.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return domain.Task{}, d.err
	}
	d.jobs = append(d.jobs, job)
	return domain.Task{ID: fmt.Sprintf("task-%d", len(d.jobs)), Name: job.Name(), State: domain.TaskQueued}, nil
}

type rosterFake struct {
	entries     []domain.RosterEntry
	err         error
	enrollments map[int64]int64
}

func (r *rosterFake) RosterForAssignment(context.Context, int64) ([]domain.RosterEntry, error) {
	return r.entries, r.err
}

func (r *rosterFake) ActiveEnrollment(_ context.Context, _ int64, studentID int64) (int64, error) {
	id, ok := r.enrollments[studentID]
	if !ok {
		return 0, domain.WrapError(domain.ErrNotFound, "active enrollment", fmt.Errorf("student %d", studentID))
	}
	return id, nil
}

func (r *rosterFake) StudentNames(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		for _, e := range r.entries {
			if e.StudentID == id {
				out[id] = e.Name
			}
		}
	}
	return out, nil
}

type standardFake struct {
	standard *domain.GradingStandard
	byID     map[int64]*domain.GradingStandard
	style    string
}

func (s *standardFake) StandardForAssignment(context.Context, int64) (*domain.GradingStandard, error) {
	if s.standard == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "grading standard", fmt.Errorf("none"))
	}
	return s.standard, nil
}

func (s *standardFake) StandardByID(_ context.Context, id int64) (*domain.GradingStandard, error) {
	if std, ok := s.byID[id]; ok {
		return std, nil
	}
	return nil, domain.WrapError(domain.ErrNotFound, "grading standard", fmt.Errorf("standard %d", id))
}

func (s *standardFake) PromptStyle(context.Context, int64) (string, error) {
	return s.style, nil
}

var _ ports.SubmissionRepository = (*submissionRepoFake)(nil)
var _ ports.EssayRepository = (*essayRepoFake)(nil)
var _ ports.ObjectStorage = (*storageFake)(nil)
var _ ports.Dispatcher = (*dispatcherFake)(nil)
var _ ports.RosterProvider = (*rosterFake)(nil)
var _ ports.StandardProvider = (*standardFake)(nil)

func strPtr(s string) *string {
	return &s
}
