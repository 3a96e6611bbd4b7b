package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/nbgrade/internal/extract"
	"github.com/ppiankov/nbgrade/internal/model"
)

const (
	msgMissingFiles = "Both assignment and notebook files are required"
	msgUploadError  = "File upload error"
	msgMLError      = "ML service error"

	// multipartOverhead leaves room for part headers and boundaries
	multipartOverhead = 1 << 20
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthBody struct {
	Backend   string `json:"backend"`
	MLService any    `json:"ml_service"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.health.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{
			Backend:   "healthy",
			MLService: "unavailable",
			Error:     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, healthBody{Backend: "healthy", MLService: status})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	// max_upload applies per file; the body holds at most two of them
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.maxUpload+multipartOverhead)

	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: fmt.Sprintf("Request too large (limit %s)", humanize.Bytes(uint64(tooLarge.Limit)))})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	assignment, assignmentHeader, err := r.FormFile("assignment")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgMissingFiles})
		return
	}
	defer func() { _ = assignment.Close() }()

	notebook, notebookHeader, err := r.FormFile("notebook")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgMissingFiles})
		return
	}
	defer func() { _ = notebook.Close() }()

	for _, h := range []*multipart.FileHeader{assignmentHeader, notebookHeader} {
		if h.Size > s.maxUpload {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: fmt.Sprintf("File too large: %s exceeds %s", h.Filename, humanize.Bytes(uint64(s.maxUpload)))})
			return
		}
	}

	if !hasExt(assignmentHeader.Filename, ".txt", ".md", ".html", ".htm") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: "Assignment must be .txt, .md or .html file"})
		return
	}
	if !hasExt(notebookHeader.Filename, ".ipynb") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: "Notebook must be .ipynb file"})
		return
	}

	assignmentBytes, err := readPart(assignment)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: err.Error()})
		return
	}
	notebookBytes, err := readPart(notebook)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: err.Error()})
		return
	}

	text, err := extract.AssignmentText(assignmentBytes, assignmentHeader.Filename, assignmentHeader.Header.Get("Content-Type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgUploadError, Details: err.Error()})
		return
	}

	report, err := s.evaluator.Evaluate(r.Context(), text, notebookBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// writeError maps the error taxonomy to a status code
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	switch {
	case model.IsValidation(err):
		status = http.StatusBadRequest
		body = errorBody{Error: "Invalid input", Details: err.Error()}
	case model.IsEmptyResult(err):
		status = http.StatusUnprocessableEntity
		body = errorBody{Error: "Nothing to grade", Details: err.Error()}
	case model.IsCollaborator(err):
		status = http.StatusBadGateway
		body = errorBody{Error: msgMLError, Details: err.Error()}
	}

	s.logger.Error("evaluation failed",
		"request_id", RequestIDFrom(r.Context()),
		"status", status,
		"error", err)

	writeJSON(w, status, body)
}

func readPart(f multipart.File) ([]byte, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func hasExt(name string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
