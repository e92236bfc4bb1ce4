package domain

import "time"

type SubmissionStatus string

const (
	SubmissionUploaded       SubmissionStatus = "uploaded"
	SubmissionPreprocessing  SubmissionStatus = "preprocessing"
	SubmissionOCRProcessing  SubmissionStatus = "ocr_processing"
	SubmissionOCRCompleted   SubmissionStatus = "ocr_completed"
	SubmissionMatching       SubmissionStatus = "matching"
	SubmissionMatchCompleted SubmissionStatus = "match_completed"
	SubmissionFailed         SubmissionStatus = "failed"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionUploaded:      {SubmissionPreprocessing},
	SubmissionPreprocessing: {SubmissionOCRProcessing},
	SubmissionOCRProcessing: {SubmissionOCRCompleted},
	SubmissionOCRCompleted:  {SubmissionMatching},
	SubmissionMatching:      {SubmissionMatchCompleted},
}

func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionUploaded, SubmissionPreprocessing, SubmissionOCRProcessing, SubmissionOCRCompleted,
		SubmissionMatching, SubmissionMatchCompleted, SubmissionFailed:
		return true
	default:
		return false
	}
}

func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionMatchCompleted || s == SubmissionFailed
}

// CanTransition reports whether a submission may move from s to next.
// Failure is reachable from every non-terminal state.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if next == SubmissionFailed {
		return true
	}
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PendingSubmission struct {
	ID               int64            `json:"id"`
	AssignmentID     int64            `json:"assignment_id"`
	UploaderID       int64            `json:"uploader_id"`
	OriginalFilename string           `json:"original_filename"`
	FilePath         string           `json:"file_path"`
	Status           SubmissionStatus `json:"status"`
	OCRText          string           `json:"ocr_text,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	MatchedStudentID *int64           `json:"matched_student_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// SubmissionUpdate is a compare-and-set status change. Nil fields are left untouched.
type SubmissionUpdate struct {
	From             SubmissionStatus
	To               SubmissionStatus
	OCRText          *string
	ErrorMessage     *string
	MatchedStudentID *int64
}

func (u SubmissionUpdate) Validate() error {
	if u.From == u.To {
		return nil
	}
	if !u.From.CanTransition(u.To) {
		return WrapError(ErrInvalidTransition, "submission", &TransitionError{From: string(u.From), To: string(u.To)})
	}
	return nil
}

// Upload is one file received by submit_batch.
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

type BatchReceipt struct {
	AssignmentID  int64   `json:"assignment_id"`
	SubmissionIDs []int64 `json:"submission_ids"`
	TaskID        string  `json:"task_id"`
}
