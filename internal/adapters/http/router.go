package httpadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/ratelimit"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/metrics"
)

const (
	userIDHeader        = "X-User-Id"
	defaultUploadMemory = 32 << 20
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Services are the inbound ports served over HTTP.
type Services struct {
	Ingest  ports.SubmissionIngestor
	Trigger ports.BatchTrigger
	Confirm ports.MatchConfirmer
	Status  ports.StatusQuery
	Export  ports.GradeExporter
}

type Options struct {
	// Limiter guards the status polling routes. Nil disables limiting.
	Limiter *ratelimit.Limiter

	// TrustUserHeader keys the limiter by X-User-Id instead of the remote
	// address. The header is client supplied unless a gateway sets it.
	TrustUserHeader bool

	Metrics *metrics.HTTPServerMetrics

	MaxUploadBytes     int64
	MaxInFlightUploads int
	UploadWait         time.Duration
}

type Router struct {
	svc      Services
	opts     Options
	validate *validator.Validate
}

func NewRouter(svc Services, opts Options) *Router {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 256 << 20
	}
	if opts.UploadWait <= 0 {
		opts.UploadWait = 2 * time.Second
	}
	return &Router{
		svc:      svc,
		opts:     opts,
		validate: validator.New(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	upload := backpressureMiddleware(http.HandlerFunc(rt.uploadSubmissions), rt.opts.MaxInFlightUploads, rt.opts.UploadWait)
	mux.Handle("POST /v1/assignments/{assignmentID}/submissions", upload)
	mux.HandleFunc("POST /v1/assignments/{assignmentID}/ocr", rt.triggerOCR)
	mux.HandleFunc("POST /v1/assignments/{assignmentID}/matching", rt.triggerMatching)
	mux.HandleFunc("POST /v1/assignments/{assignmentID}/confirmations", rt.confirmMatches)
	mux.HandleFunc("GET /v1/assignments/{assignmentID}/grades.xlsx", rt.exportGrades)
	mux.HandleFunc("POST /v1/essays/{essayID}/process", rt.triggerEssay)
	mux.HandleFunc("GET /v1/submissions/status", rt.rateLimited(rt.submissionStatus))
	mux.HandleFunc("GET /v1/essays/status", rt.rateLimited(rt.essayStatus))
	mux.HandleFunc("DELETE /v1/submissions/{submissionID}", rt.deleteSubmission)
	mux.HandleFunc("GET /v1/tasks/{taskID}", rt.getTask)

	var handler http.Handler = mux
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(recoverMiddleware(handler)))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadSubmissions(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	uploaderID, err := domain.ParseID(r.Header.Get(userIDHeader))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": userIDHeader + " header is required"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(defaultUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'images' is required"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'images' is required"})
		return
	}

	uploads := make([]domain.Upload, 0, len(headers))
	for _, fh := range headers {
		file, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload " + fh.Filename})
			return
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload " + fh.Filename})
			return
		}
		uploads = append(uploads, domain.Upload{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	receipt, err := rt.svc.Ingest.SubmitBatch(r.Context(), assignmentID, uploaderID, uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordUploads(len(uploads))
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (rt *Router) triggerOCR(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	task, err := rt.svc.Trigger.TriggerOCR(r.Context(), assignmentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (rt *Router) triggerMatching(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	task, err := rt.svc.Trigger.TriggerMatching(r.Context(), assignmentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (rt *Router) triggerEssay(w http.ResponseWriter, r *http.Request) {
	essayID, ok := pathID(w, r, "essayID")
	if !ok {
		return
	}
	task, err := rt.svc.Trigger.TriggerEssay(r.Context(), essayID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

type confirmRequest struct {
	Confirmations []domain.Confirmation `json:"confirmations" validate:"required,min=1,dive"`
}

func (rt *Router) confirmMatches(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := rt.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := rt.svc.Confirm.ConfirmMatches(r.Context(), assignmentID, req.Confirmations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) exportGrades(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	// Buffered so a failed export still gets a JSON error response.
	var buf bytes.Buffer
	if err := rt.svc.Export.ExportGradeSheet(r.Context(), assignmentID, &buf); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="assignment-%d-grades.xlsx"`, assignmentID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) submissionStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := rt.svc.Status.SubmissionStatus(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (rt *Router) essayStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := rt.svc.Status.EssayStatus(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (rt *Router) deleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "submissionID")
	if !ok {
		return
	}
	if err := rt.svc.Ingest.DeleteSubmission(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("taskID"))
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task id is required"})
		return
	}
	task, err := rt.svc.Trigger.Task(r.Context(), taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := domain.ParseID(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

// parseIDList parses a comma separated id list such as "1,2,3".
func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := domain.ParseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse ids", fmt.Errorf("query parameter ids is required"))
	}
	return ids, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "error", err)
	}
	if status == http.StatusInternalServerError {
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
