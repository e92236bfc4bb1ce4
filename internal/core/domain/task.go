package domain

import "time"

type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Task tracks one background unit of work started by a batch trigger.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     TaskState `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobKind string

const (
	JobOCRAssignment   JobKind = "ocr_assignment"
	JobOCRSubmissions  JobKind = "ocr_submissions"
	JobMatchAssignment JobKind = "match_assignment"
	JobProcessEssays   JobKind = "process_essays"
)

// Job is a batch trigger handed to a dispatcher.
type Job struct {
	TaskID       string  `json:"task_id"`
	Kind         JobKind `json:"kind"`
	AssignmentID int64   `json:"assignment_id,omitempty"`
	IDs          []int64 `json:"ids,omitempty"`
}

func (j Job) Name() string {
	return string(j.Kind)
}

// Confirmation attributes a matched submission to a student.
type Confirmation struct {
	SubmissionID int64 `json:"submission_id" validate:"required,gt=0"`
	StudentID    int64 `json:"student_id" validate:"required,gt=0"`
}

type ConfirmResult struct {
	EssayIDs []int64            `json:"essay_ids"`
	Failed   []ConfirmationFail `json:"failed"`
	TaskID   string             `json:"task_id,omitempty"`
}

type ConfirmationFail struct {
	SubmissionID int64  `json:"submission_id"`
	Error        string `json:"error"`
}

// GradeRow is one line of an assignment grade sheet.
type GradeRow struct {
	EssayID       int64
	StudentName   string
	StudentNumber string
	FinalScore    *float64
	Status        EssayStatus
	Result        *GradingResult
}
