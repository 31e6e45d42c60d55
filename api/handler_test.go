package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumina/config"
	"lumina/job"
	"lumina/media"
)

// stubRunner completes every job instantly, writing a real output file so
// downloads can be exercised.
type stubRunner struct {
	outDir string
}

func (s stubRunner) Process(ctx context.Context, j job.Job, tr job.Tracker) (string, error) {
	out := filepath.Join(s.outDir, fmt.Sprintf("%s_out.png", j.ID))
	if err := os.WriteFile(out, []byte("pixels"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

// stubEnhancer copies the input through so preview has something to return.
type stubEnhancer struct {
	fail error
}

func (s *stubEnhancer) Enhance(ctx context.Context, in, out, mode string, strength float64) error {
	if s.fail != nil {
		return s.fail
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config, *job.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	cfg := &config.Config{
		StorageRoot:   filepath.Join(root, "storage"),
		TmpRoot:       filepath.Join(root, "tmp"),
		Workers:       1,
		MaxUploadSize: 10 << 20,
	}
	require.NoError(t, cfg.EnsureDirs())

	m := job.NewManager(job.NewStore(), stubRunner{outDir: cfg.OutputDir()}, cfg.Workers)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Wait()
	})
	m.Start(ctx)

	health := func() media.HealthReport { return media.HealthReport{Overall: "ok"} }
	h := NewHandler(m, cfg, &stubEnhancer{}, health)
	return SetupRouter(h, cfg), cfg, m
}

// multipartUpload builds a request body with a file part and extra form fields.
func multipartUpload(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("not really pixels"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	t.Run("accepts an image and enqueues a job", func(t *testing.T) {
		router, _, m := setupTestRouter(t)

		body, contentType := multipartUpload(t, "photo.png", map[string]string{
			"scale": "2",
			"mode":  "general",
		})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/jobs", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp["jobId"])

		jb, found := m.GetJob(resp["jobId"])
		require.True(t, found)
		assert.Equal(t, job.MediaImage, jb.MediaType)
		assert.Equal(t, 2.0, jb.Options.Scale)

		require.Eventually(t, func() bool {
			jb, _ := m.GetJob(resp["jobId"])
			return jb.Status == job.StatusCompleted
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("rejects unsupported extensions", func(t *testing.T) {
		router, _, _ := setupTestRouter(t)
		body, contentType := multipartUpload(t, "malware.exe", nil)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/jobs", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects oversized uploads", func(t *testing.T) {
		router, cfg, _ := setupTestRouter(t)
		cfg.MaxUploadSize = 4
		body, contentType := multipartUpload(t, "photo.png", nil)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/jobs", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("rejects requests without a file part", func(t *testing.T) {
		router, _, _ := setupTestRouter(t)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/jobs", bytes.NewBufferString(""))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetJob(t *testing.T) {
	router, _, m := setupTestRouter(t)

	jb, err := m.CreateJob("job_abc", "/in/a.png", job.MediaImage, job.ProcessOptions{})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/jobs/"+jb.ID, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "job_abc", got.ID)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Empty(t, got.DownloadURL, "pending jobs have no download link")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/jobs/missing", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadURLOnCompletion(t *testing.T) {
	router, _, m := setupTestRouter(t)

	jb, err := m.CreateJob("job_done", "/in/a.png", job.MediaImage, job.ProcessOptions{})
	require.NoError(t, err)
	m.Enqueue(jb)
	require.Eventually(t, func() bool {
		jb, _ := m.GetJob("job_done")
		return jb.Status == job.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/jobs/job_done", nil)
	req.Host = "example.test"
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "http://example.test/api/v1/jobs/job_done/download", got.DownloadURL)
}

func TestHandleListJobs(t *testing.T) {
	router, _, m := setupTestRouter(t)

	for _, id := range []string{"j1", "j2", "j3"} {
		_, err := m.CreateJob(id, "/in/"+id+".png", job.MediaImage, job.ProcessOptions{})
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/jobs", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []job.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "j1", got[0].ID)
	assert.Equal(t, "j3", got[2].ID)
}

func TestHandleCancelJob(t *testing.T) {
	router, _, m := setupTestRouter(t)

	_, err := m.CreateJob("job_c", "/in/a.png", job.MediaImage, job.ProcessOptions{})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PATCH", "/api/v1/jobs/job_c/cancel", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp["accepted"])

	got, _ := m.GetJob("job_c")
	assert.Equal(t, job.StatusCancelled, got.Status)

	// Second cancel of a finished job is refused but still a 200.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("PATCH", "/api/v1/jobs/job_c/cancel", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp["accepted"])

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("PATCH", "/api/v1/jobs/missing/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDownload(t *testing.T) {
	router, _, m := setupTestRouter(t)

	t.Run("not ready", func(t *testing.T) {
		_, err := m.CreateJob("job_p", "/in/a.png", job.MediaImage, job.ProcessOptions{})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/jobs/job_p/download", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("completed", func(t *testing.T) {
		jb, err := m.CreateJob("job_d", "/in/a.png", job.MediaImage, job.ProcessOptions{})
		require.NoError(t, err)
		m.Enqueue(jb)
		require.Eventually(t, func() bool {
			jb, _ := m.GetJob("job_d")
			return jb.Status == job.StatusCompleted
		}, 2*time.Second, 10*time.Millisecond)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/jobs/job_d/download", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pixels", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Disposition"), "job_d_out.png")
	})
}

func TestHandlePreview(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	body, contentType := multipartUpload(t, "face.png", map[string]string{
		"mode":     "face",
		"strength": "0.8",
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/preview", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "not really pixels", w.Body.String())

	t.Run("video rejected", func(t *testing.T) {
		body, contentType := multipartUpload(t, "clip.mp4", nil)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/preview", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var report media.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Overall)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(cfg *config.Config) *gin.Engine {
		r := gin.New()
		r.GET("/protected", AuthMiddleware(cfg), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return r
	}

	t.Run("disabled lets everything through", func(t *testing.T) {
		r := newRouter(&config.Config{AuthEnable: false})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		r := newRouter(&config.Config{AuthEnable: true, AuthKey: "k"})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		r := newRouter(&config.Config{AuthEnable: true, AuthKey: "k"})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		r := newRouter(&config.Config{AuthEnable: true, AuthKey: "k"})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "bearer k")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
