package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/export"
	"github.com/MikeSquared-Agency/scribe/internal/importer"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// ImportRequest is the body of POST /api/v1/imports. Data is the export file
// content as uploaded by the user.
type ImportRequest struct {
	Source    string          `json:"source"`
	UserID    string          `json:"userId"`
	Email     string          `json:"email"`
	CompanyID string          `json:"companyId"`
	BrainID   string          `json:"brainId"`
	APIKey    string          `json:"apiKey,omitempty"`
	Model     string          `json:"model"`
	Data      json.RawMessage `json:"data"`
}

type ChatProgress struct {
	ChatID         string `json:"chatId"`
	ConversationID string `json:"conversationId"`
	Title          string `json:"title,omitempty"`
	TaskID         string `json:"taskId"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type ImportProgress struct {
	ID                 string            `json:"id"`
	Source             string            `json:"source"`
	Status             store.JobStatus   `json:"status"`
	TotalConversations int               `json:"totalImportChat"`
	SuccessCount       int               `json:"successImportedChat"`
	ExistingHashCount  int               `json:"existingHashCount"`
	SkippedCount       int               `json:"skippedCount"`
	Tokens             store.TokenTotals `json:"tokens"`
	TotalSummaryCost   string            `json:"totalSummaryCost,omitempty"`
	Chats              []ChatProgress    `json:"chats"`
	CreatedAt          time.Time         `json:"createdAt"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
}

// createImport handles POST /api/v1/imports
func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	source, err := export.ParseSource(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" || req.BrainID == "" {
		writeError(w, http.StatusBadRequest, "userId and brainId are required")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	res, err := s.imports.Import(r.Context(), importer.Request{
		Source: source,
		Data:   req.Data,
		User: importer.UserMeta{
			UserID:    req.UserID,
			Email:     req.Email,
			CompanyID: req.CompanyID,
			BrainID:   req.BrainID,
		},
		APIKey: req.APIKey,
		Model:  req.Model,
	})
	switch {
	case errors.Is(err, importer.ErrInvalidExport), errors.Is(err, importer.ErrNoConversations):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("import failed", "brain_id", req.BrainID, "error", err)
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

// getImport handles GET /api/v1/imports/{id}
func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "load job failed")
		return
	}

	chats, err := s.chatProgress(r, job)
	if err != nil {
		s.logger.Error("load task statuses", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "load task statuses failed")
		return
	}

	writeJSON(w, http.StatusOK, ImportProgress{
		ID:                 job.ID.String(),
		Source:             job.Source,
		Status:             job.Status,
		TotalConversations: job.TotalConversations,
		SuccessCount:       job.SuccessCount,
		ExistingHashCount:  job.ExistingHashCount,
		SkippedCount:       job.SkippedCount,
		Tokens:             job.Tokens,
		TotalSummaryCost:   job.TotalSummaryCost,
		Chats:              chats,
		CreatedAt:          job.CreatedAt,
		CompletedAt:        job.CompletedAt,
	})
}

// chatProgress reports reconciled chats from the job and live status for
// the rest.
func (s *Server) chatProgress(r *http.Request, job store.ImportJob) ([]ChatProgress, error) {
	var pending []string
	for _, e := range job.ConversationData {
		if e.TaskStatus != store.TaskSuccess && e.TaskID != "" {
			pending = append(pending, e.TaskID)
		}
	}
	live, err := s.tasks.GetMany(r.Context(), pending)
	if err != nil {
		return nil, err
	}

	chats := make([]ChatProgress, 0, len(job.ConversationData))
	for chatID, e := range job.ConversationData {
		p := ChatProgress{
			ChatID:         chatID,
			ConversationID: e.ConversationID,
			Title:          e.Title,
			TaskID:         e.TaskID,
			Status:         e.TaskStatus,
		}
		if rec, ok := live[e.TaskID]; ok && e.TaskStatus != store.TaskSuccess {
			p.Status = string(rec.Status)
			p.Error = rec.Error
		}
		chats = append(chats, p)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ChatID < chats[j].ChatID })
	return chats, nil
}
