package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(60000, 100),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithPollInterval(time.Millisecond),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGenerateAndWait(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /image/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("api_token"))
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.JSONEq(t, `{"background_setting":"transparent","objects":[]}`, string(req.StructuredPrompt))
		writeJSON(w, http.StatusAccepted, Job{RequestID: "job-1"})
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-1", r.PathValue("id"))
		if polls.Add(1) < 3 {
			writeJSON(w, http.StatusOK, Status{Status: StatusPending})
			return
		}
		writeJSON(w, http.StatusOK, Status{Status: StatusCompleted, ImageURL: "https://cdn.example.com/out.png"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	job, err := c.Generate(ctx, GenerateRequest{StructuredPrompt: json.RawMessage(`{"background_setting":"transparent","objects":[]}`)})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.RequestID)

	st, err := c.Wait(ctx, job.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/out.png", st.ImageURL)
	assert.Equal(t, "job-1", st.RequestID)
	assert.EqualValues(t, 3, polls.Load())
}

func TestGenerateRequiresPrompt(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Generate(context.Background(), GenerateRequest{})
	var perr *refinererrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.CanRetry())
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "busy"})
		case 2:
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "slow down"})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"visual_id": "vis-9"})
		}
	}))

	id, err := c.RegisterImage(context.Background(), "https://cdn.example.com/in.png")
	require.NoError(t, err)
	assert.Equal(t, "vis-9", id)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad image"})
	}))

	_, err := c.MaskFill(context.Background(), MaskFillRequest{ImageURL: "x", MaskURL: "y", Prompt: "z"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())

	var perr *refinererrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Equal(t, "mask_fill", perr.Op)
	assert.False(t, refinererrors.IsRetryable(err))
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient("k",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetry(2),
		WithRateLimit(60000, 100),
		WithBackoff(time.Millisecond, time.Millisecond))

	_, err := c.Status(context.Background(), "job")
	require.Error(t, err)
	assert.ErrorContains(t, err, "max retries exceeded")
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitReportsFailedJob(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{Status: StatusFailed, Error: "content filtered"})
	}))

	st, err := c.Wait(context.Background(), "job-2")
	require.Error(t, err)
	assert.ErrorContains(t, err, "content filtered")
	assert.Equal(t, StatusFailed, st.Status)
	assert.False(t, refinererrors.IsRetryable(err))
}

func TestWaitHonorsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{Status: StatusPending})
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx, "job-3")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestEditBackground(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, Job{RequestID: "bg"})
	}))
	ctx := context.Background()

	_, err := c.EditBackground(ctx, BackgroundEdit{Mode: BackgroundRemove, ImageURL: "img"})
	require.NoError(t, err)
	_, err = c.EditBackground(ctx, BackgroundEdit{Mode: BackgroundReplace, ImageURL: "img", Prompt: "a beach"})
	require.NoError(t, err)

	_, err = c.EditBackground(ctx, BackgroundEdit{Mode: BackgroundReplace, ImageURL: "img"})
	assert.ErrorContains(t, err, "replacement prompt is required")
	_, err = c.EditBackground(ctx, BackgroundEdit{Mode: "blur", ImageURL: "img"})
	assert.ErrorContains(t, err, "unknown background mode")

	assert.Equal(t, []string{"/image/edit/remove_background", "/image/edit/replace_background"}, paths)
}

func TestGenerateMask(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"visual_id": "vis-1", "object": "nose"}, body)
		writeJSON(w, http.StatusOK, Mask{ID: "m1", URL: "https://cdn.example.com/m1.png"})
	}))

	mask, err := c.GenerateMask(context.Background(), "vis-1", "nose")
	require.NoError(t, err)
	assert.Equal(t, "m1", mask.ID)
}
