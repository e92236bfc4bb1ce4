package llm

// Attempt describes the call about to be made.
type Attempt struct {
	// Number is zero for the first call.
	Number         int
	Base           string
	LastErr        error
	FormatFailures int
}

// PromptStrategy maps an attempt to the prompt sent for it.
type PromptStrategy interface {
	Prompt(a Attempt) string
}

type PromptStrategyFunc func(a Attempt) string

func (f PromptStrategyFunc) Prompt(a Attempt) string {
	return f(a)
}

const defaultJSONReminder = "请确保返回有效的JSON格式。"

// JSONReminder appends an explicit JSON instruction once a response failed to parse.
type JSONReminder struct {
	Reminder string
}

func (s JSONReminder) Prompt(a Attempt) string {
	if a.FormatFailures == 0 {
		return a.Base
	}
	reminder := s.Reminder
	if reminder == "" {
		reminder = defaultJSONReminder
	}
	return a.Base + "\n\n" + reminder
}

// Verbatim always sends the base prompt.
var Verbatim = PromptStrategyFunc(func(a Attempt) string { return a.Base })
