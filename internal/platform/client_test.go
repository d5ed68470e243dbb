package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepscope/stepscope/internal/config"
	"github.com/stepscope/stepscope/internal/models"
)

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Endpoint:     endpoint,
		AuthSecret:   "test-secret",
		Principal:    "tester",
		PollInterval: 10 * time.Millisecond,
		HTTPTimeout:  5 * time.Second,
	}
}

func validSpec() models.JobSpec {
	return models.JobSpec{
		Name:          "resnet-profiling",
		EntryPoint:    "train.py",
		InstanceType:  "gpu.1x",
		InstanceCount: 1,
	}
}

func TestSubmitNonBlocking(t *testing.T) {
	t.Parallel()
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/jobs", r.URL.Path)
		sawAuth = strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")

		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "resnet-profiling", req.Spec.Name)
		assert.Equal(t, models.DatasetLocation("http://blobs/datasets/d1"), req.Inputs["training"])

		json.NewEncoder(w).Encode(jobEnvelope{Job: &models.JobInfo{
			ID:     "job-1",
			Spec:   req.Spec,
			Status: models.JobStatusPending,
		}})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	inputs := map[string]models.DatasetLocation{"training": "http://blobs/datasets/d1"}

	start := time.Now()
	job, err := client.Submit(context.Background(), validSpec(), inputs, false)
	require.NoError(t, err)

	// The handle comes back without waiting on job progress.
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.True(t, sawAuth, "expected a bearer token on the request")
}

func TestSubmitInvalidSpecFailsBeforeRequest(t *testing.T) {
	t.Parallel()
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	spec := validSpec()
	spec.InstanceType = "tpu.999x"
	_, err = client.Submit(context.Background(), spec, nil, false)

	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, CodeInvalidSpec, subErr.Code)
	assert.Zero(t, requests)
}

func TestSubmitRejection(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": CodeQuotaExceeded, "message": "concurrent job quota exhausted"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), validSpec(), nil, false)
	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, CodeQuotaExceeded, subErr.Code)
	assert.Contains(t, subErr.Error(), "quota")
}

func TestSubmitWaitPollsToTerminal(t *testing.T) {
	t.Parallel()
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jobs":
			json.NewEncoder(w).Encode(jobEnvelope{Job: &models.JobInfo{ID: "job-2", Status: models.JobStatusPending}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/jobs/job-2":
			polls++
			status := models.JobStatusRunning
			if polls >= 3 {
				status = models.JobStatusCompleted
			}
			json.NewEncoder(w).Encode(jobEnvelope{Job: &models.JobInfo{ID: "job-2", Status: status}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	job, err := client.Submit(context.Background(), validSpec(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.GreaterOrEqual(t, polls, 3)
}

func TestCheckVersion(t *testing.T) {
	t.Parallel()
	apiVersion := SupportedAPIVersion
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/version", r.URL.Path)
		json.NewEncoder(w).Encode(versionInfo{Service: "trainctl", Version: "9.1.0", APIVersion: apiVersion})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	require.NoError(t, client.CheckVersion(context.Background()))

	apiVersion = SupportedAPIVersion + 1
	err = client.CheckVersion(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionMismatch))
	assert.Contains(t, err.Error(), "upgrade stepscope")
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "not_found", "message": "no such job"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such job")
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/jobs", r.URL.Path)
		json.NewEncoder(w).Encode(jobListEnvelope{Jobs: []models.JobInfo{
			{ID: "job-2", Status: models.JobStatusRunning},
			{ID: "job-1", Status: models.JobStatusCompleted},
		}})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	jobs, err := client.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].ID)
}

func TestMintAndValidateToken(t *testing.T) {
	t.Parallel()
	token, err := MintToken("test-secret", "tester", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken("test-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "tester", claims.Principal)

	_, err = ValidateToken("other-secret", token)
	assert.Error(t, err)
}
