package domain

// StatusView is the polling payload for one submission or essay.
type StatusView struct {
	ID                 int64    `json:"id"`
	Status             string   `json:"status"`
	Progress           int      `json:"progress"`
	Text               string   `json:"text"`
	ErrorMessage       string   `json:"error_message,omitempty"`
	OCRText            string   `json:"ocr_text,omitempty"`
	MatchedStudentID   *int64   `json:"matched_student_id,omitempty"`
	MatchedStudentName string   `json:"matched_student_name,omitempty"`
	FinalScore         *float64 `json:"final_score,omitempty"`
}

const StatusNotFound = "not_found"

type progressText struct {
	progress int
	text     string
}

var submissionProgress = map[SubmissionStatus]progressText{
	SubmissionUploaded:       {10, "已上传，等待处理"},
	SubmissionPreprocessing:  {25, "图像预处理中"},
	SubmissionOCRProcessing:  {50, "文字识别中"},
	SubmissionOCRCompleted:   {75, "识别完成，等待匹配学生"},
	SubmissionMatching:       {90, "正在匹配学生"},
	SubmissionMatchCompleted: {100, "匹配完成，等待确认"},
	SubmissionFailed:         {100, "处理失败"},
}

var essayProgress = map[EssayStatus]progressText{
	EssayPending:         {10, "等待批改"},
	EssayCorrecting:      {40, "AI 正在校对识别文本"},
	EssayGrading:         {75, "AI 正在评分"},
	EssayGraded:          {100, "批改完成"},
	EssayErrorCorrection: {100, "文本校对失败"},
	EssayErrorAPI:        {100, "AI 服务调用失败"},
	EssayErrorParsing:    {100, "AI 返回结果解析失败"},
	EssayErrorNoText:     {100, "作文内容为空"},
	EssayErrorNoStandard: {100, "作业未配置评分标准"},
	EssayErrorUnknown:    {100, "未知错误"},
}

func SubmissionStatusView(s PendingSubmission) StatusView {
	pt, ok := submissionProgress[s.Status]
	if !ok {
		pt = progressText{0, "未知状态"}
	}
	return StatusView{
		ID:               s.ID,
		Status:           string(s.Status),
		Progress:         pt.progress,
		Text:             pt.text,
		ErrorMessage:     s.ErrorMessage,
		OCRText:          s.OCRText,
		MatchedStudentID: s.MatchedStudentID,
	}
}

func EssayStatusView(e Essay) StatusView {
	pt, ok := essayProgress[e.Status]
	if !ok {
		pt = progressText{0, "未知状态"}
	}
	return StatusView{
		ID:           e.ID,
		Status:       string(e.Status),
		Progress:     pt.progress,
		Text:         pt.text,
		ErrorMessage: e.ErrorMessage,
		FinalScore:   e.FinalScore,
	}
}

func NotFoundStatusView(id int64) StatusView {
	return StatusView{ID: id, Status: StatusNotFound, Progress: 0, Text: "记录不存在"}
}
