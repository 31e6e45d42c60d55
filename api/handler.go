package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"

	"lumina/config"
	"lumina/job"
	"lumina/media"
	"lumina/pipeline"
)

// Handler serves the job-facing API. It holds one explicitly injected
// Manager; there is no process-wide singleton.
type Handler struct {
	manager  *job.Manager
	cfg      *config.Config
	enhancer pipeline.Enhancer
	health   func() media.HealthReport
}

func NewHandler(m *job.Manager, cfg *config.Config, enhancer pipeline.Enhancer, health func() media.HealthReport) *Handler {
	return &Handler{
		manager:  m,
		cfg:      cfg,
		enhancer: enhancer,
		health:   health,
	}
}

// handleUpload accepts a multipart upload plus processing options, stores the
// input file, and creates + enqueues the job.
func (h *Handler) handleUpload(c *gin.Context) {
	if err := media.CheckResources(h.limits()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("server busy: %v", err)})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if h.cfg.MaxUploadSize > 0 && file.Size > h.cfg.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds limit of %d bytes", h.cfg.MaxUploadSize)})
		return
	}

	filename := media.SanitizeFilename(file.Filename)
	if !media.AllowedFile(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	mediaType, err := media.DetectMediaType(filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts job.ProcessOptions
	if err := c.ShouldBind(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid options: %v", err)})
		return
	}

	id := fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	inputPath := filepath.Join(h.cfg.InputDir(), id+"_"+filename)
	if err := c.SaveUploadedFile(file, inputPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload", "details": err.Error()})
		return
	}

	jb, err := h.manager.CreateJob(id, inputPath, mediaType, opts)
	if err != nil {
		os.Remove(inputPath)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.manager.Enqueue(jb)

	c.JSON(http.StatusAccepted, gin.H{"jobId": id})
}

func (h *Handler) handleGetJob(c *gin.Context) {
	jb, found := h.manager.GetJob(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	h.fillDownloadURL(c, &jb)
	c.JSON(http.StatusOK, jb)
}

func (h *Handler) handleListJobs(c *gin.Context) {
	jobs := h.manager.ListJobs()
	for i := range jobs {
		h.fillDownloadURL(c, &jobs[i])
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) handleCancelJob(c *gin.Context) {
	id := c.Param("jobId")
	if _, found := h.manager.GetJob(id); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	accepted := h.manager.Cancel(id)
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

func (h *Handler) handleDownload(c *gin.Context) {
	jb, found := h.manager.GetJob(c.Param("jobId"))
	if !found || jb.Status != job.StatusCompleted || jb.OutputPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no output available"})
		return
	}
	c.FileAttachment(jb.OutputPath, filepath.Base(jb.OutputPath))
}

// handlePreview runs a synchronous single-image enhancement on a small
// upload. No job record is created; the caller gets the image back directly.
func (h *Handler) handlePreview(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	filename := media.SanitizeFilename(file.Filename)
	if mt, err := media.DetectMediaType(filename); err != nil || mt != job.MediaImage {
		c.JSON(http.StatusBadRequest, gin.H{"error": "preview requires an image upload"})
		return
	}

	mode := c.DefaultPostForm("mode", "general")
	strength := 0.6
	if s, err := parseFloatForm(c, "strength"); err == nil {
		strength = s
	}

	tmpDir, err := os.MkdirTemp(h.cfg.TmpRoot, "preview_")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not prepare preview"})
		return
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, filename)
	if err := c.SaveUploadedFile(file, inPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}
	outPath := filepath.Join(tmpDir, "preview.png")
	if err := h.enhancer.Enhance(c.Request.Context(), inPath, outPath, mode, strength); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.File(outPath)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.health())
}

// fillDownloadURL sets DownloadURL on outgoing snapshots of completed jobs.
func (h *Handler) fillDownloadURL(c *gin.Context, jb *job.Job) {
	if jb.Status != job.StatusCompleted || jb.OutputPath == "" {
		return
	}
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	jb.DownloadURL = fmt.Sprintf("%s/api/v1/jobs/%s/download", strings.TrimSuffix(baseURL, "/"), jb.ID)
}

func (h *Handler) limits() media.ResourceLimits {
	return media.ResourceLimits{
		ThrottleCPU: h.cfg.ThrottleCPU,
		FreeMemory:  h.cfg.ThrottleFreeMem,
		FreeDisk:    h.cfg.ThrottleFreeDisk,
		Path:        h.cfg.StorageRoot,
	}
}

func parseFloatForm(c *gin.Context, key string) (float64, error) {
	val := c.PostForm(key)
	if val == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	var f float64
	_, err := fmt.Sscanf(val, "%g", &f)
	return f, err
}
