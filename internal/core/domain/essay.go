package domain

import (
	"fmt"
	"time"
)

type EssayStatus string

const (
	EssayPending         EssayStatus = "pending"
	EssayCorrecting      EssayStatus = "correcting"
	EssayGrading         EssayStatus = "grading"
	EssayGraded          EssayStatus = "graded"
	EssayErrorCorrection EssayStatus = "error_correction"
	EssayErrorAPI        EssayStatus = "error_api"
	EssayErrorParsing    EssayStatus = "error_parsing"
	EssayErrorNoText     EssayStatus = "error_no_text"
	EssayErrorNoStandard EssayStatus = "error_no_standard"
	EssayErrorUnknown    EssayStatus = "error_unknown"
)

var essayTransitions = map[EssayStatus][]EssayStatus{
	EssayPending:    {EssayCorrecting, EssayGrading},
	EssayCorrecting: {EssayGrading},
	EssayGrading:    {EssayGraded},
}

func (s EssayStatus) Valid() bool {
	switch s {
	case EssayPending, EssayCorrecting, EssayGrading, EssayGraded:
		return true
	}
	return s.IsError()
}

func (s EssayStatus) IsError() bool {
	switch s {
	case EssayErrorCorrection, EssayErrorAPI, EssayErrorParsing, EssayErrorNoText, EssayErrorNoStandard, EssayErrorUnknown:
		return true
	default:
		return false
	}
}

func (s EssayStatus) Terminal() bool {
	return s == EssayGraded || s.IsError()
}

// CanTransition reports whether an essay may move from s to next.
// Any error status is reachable from every non-terminal state.
func (s EssayStatus) CanTransition(next EssayStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if next.IsError() {
		return true
	}
	for _, allowed := range essayTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Essay struct {
	ID                int64          `json:"id"`
	AssignmentID      int64          `json:"assignment_id"`
	EnrollmentID      int64          `json:"enrollment_id"`
	GradingStandardID *int64         `json:"grading_standard_id,omitempty"`
	Content           string         `json:"content"`
	OriginalOCRText   string         `json:"original_ocr_text,omitempty"`
	IsFromOCR         bool           `json:"is_from_ocr"`
	OriginalImagePath string         `json:"original_image_path,omitempty"`
	Status            EssayStatus    `json:"status"`
	AIScore           *GradingResult `json:"ai_score,omitempty"`
	FinalScore        *float64       `json:"final_score,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// EssayUpdate is a compare-and-set status change. Nil fields are left untouched.
type EssayUpdate struct {
	From         EssayStatus
	To           EssayStatus
	Content      *string
	AIScore      *GradingResult
	FinalScore   *float64
	ErrorMessage *string
}

func (u EssayUpdate) Validate() error {
	if u.From == u.To {
		return nil
	}
	if !u.From.CanTransition(u.To) {
		return WrapError(ErrInvalidTransition, "essay", &TransitionError{From: string(u.From), To: string(u.To)})
	}
	return nil
}

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}
