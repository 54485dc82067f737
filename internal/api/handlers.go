// Package api exposes the HTTP surface: job submission, job lookup, batch
// status polling and operational endpoints.
package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillsenselab/scribeflow/internal/domain"
	apperrors "github.com/skillsenselab/scribeflow/internal/errors"
	"github.com/skillsenselab/scribeflow/internal/events"
	"github.com/skillsenselab/scribeflow/internal/jobstore"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/metrics"
	"github.com/skillsenselab/scribeflow/internal/orchestrator"
	"github.com/skillsenselab/scribeflow/internal/quota"
	"github.com/skillsenselab/scribeflow/internal/status"
	"github.com/skillsenselab/scribeflow/internal/storage"
)

// Handlers serves the job endpoints.
type Handlers struct {
	store   jobstore.Store
	blobs   *storage.BlobClient
	limiter *quota.Limiter
	bus     events.Bus
	status  *status.Service
	metrics *metrics.Collector
	log     *logger.Logger
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(
	store jobstore.Store,
	blobs *storage.BlobClient,
	limiter *quota.Limiter,
	bus events.Bus,
	statusSvc *status.Service,
	collector *metrics.Collector,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		store:   store,
		blobs:   blobs,
		limiter: limiter,
		bus:     bus,
		status:  statusSvc,
		metrics: collector,
		log:     log.WithComponent("api"),
	}
}

type submitForm struct {
	Language        string   `form:"language" binding:"omitempty,langtag"`
	SpeakerLabels   bool     `form:"speaker_labels"`
	SubtitleFormats []string `form:"subtitle_formats" binding:"omitempty,dive,oneof=srt vtt"`
	Verbosity       string   `form:"summary_verbosity" binding:"omitempty,oneof=short detailed"`
}

type submitResponse struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// Submit accepts a media file as multipart form data, admits it against
// the owner's document quota, stores the bytes and enqueues the
// transcription stage. Responds 202 with the job id.
func (h *Handlers) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	owner := ownerFrom(c)

	var form submitForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, apperrors.Validation(err.Error()))
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, apperrors.Validation("multipart field 'file' is required"))
		return
	}
	if file.Size == 0 {
		respondError(c, apperrors.Validation("uploaded file is empty"))
		return
	}

	if err := h.limiter.CheckAdmission(ctx, owner, domain.ResourceDocuments); err != nil {
		h.metrics.QuotaRejected(string(domain.ResourceDocuments))
		respondError(c, err)
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	filename := path.Base(file.Filename)
	uri, err := h.blobs.PutBlob(ctx, "uploads/"+uuid.New().String()+"/"+filename, content)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	language := form.Language
	if language == "" {
		language = domain.LanguageAuto
	}
	job, err := h.store.Create(ctx, owner, filename, uri, language)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	meta := map[string]any{
		orchestrator.MetaPayloadBytes:  file.Size,
		orchestrator.MetaSpeakerLabels: form.SpeakerLabels,
	}
	if len(form.SubtitleFormats) > 0 {
		meta[orchestrator.MetaSubtitleFormats] = form.SubtitleFormats
	}
	if form.Verbosity != "" {
		meta[orchestrator.MetaVerbosity] = form.Verbosity
	}
	if _, err := h.store.MergeResults(ctx, job.ID, jobstore.Results{Metadata: meta}); err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}

	if err := h.limiter.RecordUsage(ctx, owner, domain.ResourceDocuments, 1); err != nil {
		h.log.Warn("document usage not recorded", map[string]interface{}{
			logger.FieldJobID: job.ID,
			logger.FieldError: err.Error(),
		})
	}

	if err := h.bus.Publish(ctx, events.Trigger{
		JobID:      job.ID,
		Stage:      events.StageTranscribe,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		// The job exists but will not start; fail it so the client is not
		// left polling a stuck pending job.
		_ = h.store.SetStatus(ctx, job.ID, domain.StatusFailed, "could not enqueue transcription")
		respondError(c, apperrors.Internal(err))
		return
	}

	h.log.Info("job submitted", map[string]interface{}{
		logger.FieldJobID:   job.ID,
		logger.FieldOwnerID: owner,
		"filename":          filename,
		"payload_bytes":     file.Size,
	})
	c.JSON(http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// GetJob returns one job owned by the caller. Foreign and unknown ids both
// read as not found.
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			respondError(c, apperrors.NotFound("job", c.Param("id")))
			return
		}
		respondError(c, apperrors.Internal(err))
		return
	}
	if job.OwnerID != ownerFrom(c) {
		respondError(c, apperrors.NotFound("job", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, job)
}

type batchStatusRequest struct {
	JobIDs []string `json:"job_ids" binding:"required"`
}

// BatchStatus resolves the status of up to 50 jobs in one call.
func (h *Handlers) BatchStatus(c *gin.Context) {
	var req batchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation(err.Error()))
		return
	}
	resp, err := h.status.GetStatuses(c.Request.Context(), ownerFrom(c), req.JobIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
