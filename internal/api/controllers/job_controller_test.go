package controllers_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gridsense/pdmon/internal/api/controllers"
	"github.com/gridsense/pdmon/internal/api/middleware"
	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/scheduler"
	"github.com/gridsense/pdmon/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeRunner struct {
	jobs      []string
	running   map[string]bool
	last      map[string]*scheduler.Result
	triggered []string
}

func (f *fakeRunner) Jobs() []string { return f.jobs }

func (f *fakeRunner) LastResult(name string) (*scheduler.Result, bool) {
	r, ok := f.last[name]
	return r, ok
}

func (f *fakeRunner) IsRunning(name string) bool { return f.running[name] }

func (f *fakeRunner) Trigger(name string) error {
	known := false
	for _, j := range f.jobs {
		known = known || j == name
	}
	if !known {
		return fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, name)
	}
	if f.running[name] {
		return fmt.Errorf("%w: %s", scheduler.ErrJobRunning, name)
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func TestJobController(t *testing.T) {
	// Setup test environment
	ts := testutil.NewTestSetup(t)

	runner := &fakeRunner{
		jobs:    []string{"offline_sweep", "sample_sync"},
		running: map[string]bool{"offline_sweep": true},
		last: map[string]*scheduler.Result{
			"sample_sync": {Job: "sample_sync", Success: true, Summary: "inserted=3"},
		},
	}

	jobController := controllers.NewJobController(runner, ts.Logger)
	auth := middleware.NewAuthMiddleware(&ts.Config.JWT)

	group := ts.Router.Group("/api/v1")
	group.Use(auth.RequireAuth())
	jobController.RegisterRoutes(group)
	admin := group.Group("")
	admin.Use(auth.RequireAdmin())
	jobController.RegisterAdminRoutes(admin)

	viewer := map[string]string{"Authorization": "Bearer " + ts.CreateTestAuthToken("viewer", models.RoleViewer)}
	operator := map[string]string{"Authorization": "Bearer " + ts.CreateTestAuthToken("root", models.RoleAdmin)}

	t.Run("Should list jobs with their last result", func(t *testing.T) {
		resp := ts.ExecuteRequest("GET", "/api/v1/jobs", nil, viewer)
		assert.Equal(t, http.StatusOK, resp.Code)

		var jobs []controllers.JobStatus
		ts.ParseResponse(resp, &jobs)
		if assert.Len(t, jobs, 2) {
			assert.Equal(t, "offline_sweep", jobs[0].Name)
			assert.True(t, jobs[0].Running)
			assert.Nil(t, jobs[0].LastResult)
			assert.Equal(t, "inserted=3", jobs[1].LastResult.Summary)
		}
	})

	t.Run("Should return 404 for an unknown job", func(t *testing.T) {
		resp := ts.ExecuteRequest("GET", "/api/v1/jobs/nope", nil, viewer)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("Should forbid viewers from running jobs", func(t *testing.T) {
		resp := ts.ExecuteRequest("POST", "/api/v1/jobs/sample_sync/run", nil, viewer)
		assert.Equal(t, http.StatusForbidden, resp.Code)
		assert.Empty(t, runner.triggered)
	})

	t.Run("Should accept a run request from an admin", func(t *testing.T) {
		resp := ts.ExecuteRequest("POST", "/api/v1/jobs/sample_sync/run", nil, operator)
		assert.Equal(t, http.StatusAccepted, resp.Code)
		assert.Equal(t, []string{"sample_sync"}, runner.triggered)
	})

	t.Run("Should return 409 when the job is running", func(t *testing.T) {
		resp := ts.ExecuteRequest("POST", "/api/v1/jobs/offline_sweep/run", nil, operator)
		assert.Equal(t, http.StatusConflict, resp.Code)

		var response map[string]string
		ts.ParseResponse(resp, &response)
		assert.Equal(t, "job_running", response["code"])
	})

	t.Run("Should return 404 when running an unknown job", func(t *testing.T) {
		resp := ts.ExecuteRequest("POST", "/api/v1/jobs/nope/run", nil, operator)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
