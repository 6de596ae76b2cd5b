package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pagediff/internal/alignment"
	"pagediff/internal/blob"
	"pagediff/internal/cluster"
	"pagediff/internal/page"
	"pagediff/internal/pipeline"
)

func fakeInvoker(t *testing.T) pipeline.Invoker {
	t.Helper()
	return pipeline.InvokerFunc(func(ctx context.Context, job pipeline.PairJob) (pipeline.PairResult, error) {
		if err := job.Params.Validate(); err != nil {
			return pipeline.PairResult{}, err
		}
		if job.BeforeIndex == 9 {
			return pipeline.PairResult{}, &pipeline.StageError{
				Stage:  pipeline.StageAlign,
				Before: job.BeforeIndex,
				After:  job.AfterIndex,
				Err:    &alignment.InsufficientMatchesError{Good: 3, Min: 10},
			}
		}
		return pipeline.PairResult{
			BeforeIndex: job.BeforeIndex,
			AfterIndex:  job.AfterIndex,
			Regions:     []cluster.Region{{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}},
		}, nil
	})
}

func TestHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(NewHandler(fakeInvoker(t), nil, nil).Routes())
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", 5*time.Second)
	if err := client.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}

	res, err := client.Invoke(context.Background(), pipeline.PairJob{
		JobID: "job", BeforeIndex: 1, AfterIndex: 2, Params: pipeline.DefaultParams(),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.BeforeIndex != 1 || res.AfterIndex != 2 || len(res.Regions) != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Regions[0] != (cluster.Region{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}) {
		t.Errorf("region = %+v", res.Regions[0])
	}
}

func TestHTTPStageFailure(t *testing.T) {
	srv := httptest.NewServer(NewHandler(fakeInvoker(t), nil, nil).Routes())
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 5*time.Second)
	_, err := client.Invoke(context.Background(), pipeline.PairJob{BeforeIndex: 9, AfterIndex: 0, Params: pipeline.DefaultParams()})
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StageError", err)
	}
	if se.Stage != pipeline.StageAlign || se.Before != 9 || se.After != 0 {
		t.Errorf("stage error = %+v", se)
	}
}

func TestInvokeHandlerStatus(t *testing.T) {
	h := NewHandler(fakeInvoker(t), nil, nil)

	bad := pipeline.DefaultParams()
	bad.Eps = -1
	tests := []struct {
		name   string
		method string
		body   interface{}
		want   int
	}{
		{"ok", http.MethodPost, pipeline.PairJob{Params: pipeline.DefaultParams()}, http.StatusOK},
		{"invalid params", http.MethodPost, pipeline.PairJob{Params: bad}, http.StatusBadRequest},
		{"pair failure", http.MethodPost, pipeline.PairJob{BeforeIndex: 9, Params: pipeline.DefaultParams()}, http.StatusUnprocessableEntity},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"garbage", http.MethodPost, "not a job", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body bytes.Buffer
			if tt.body != nil {
				json.NewEncoder(&body).Encode(tt.body)
			}
			req := httptest.NewRequest(tt.method, "/invoke", &body)
			rec := httptest.NewRecorder()
			h.InvokeHandler(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestJobsHandler(t *testing.T) {
	runner := &pipeline.Runner{
		Loader:  page.StoreLoader{Store: blob.NewMemoryStore()},
		Invoker: fakeInvoker(t),
		Workers: 2,
	}
	h := NewHandler(fakeInvoker(t), runner, nil)

	// No page can be fetched from the empty store.
	job := pipeline.Job{
		BeforePages: []page.Ref{{ImageKey: "missing.png"}},
		AfterPages:  []page.Ref{{ImageKey: "missing2.png"}},
		Params:      pipeline.DefaultParams(),
	}
	var body bytes.Buffer
	json.NewEncoder(&body).Encode(job)
	rec := httptest.NewRecorder()
	h.JobsHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs", &body))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (%s)", rec.Code, rec.Body.String())
	}

	// An empty job succeeds with an empty result.
	body.Reset()
	json.NewEncoder(&body).Encode(pipeline.Job{Params: pipeline.DefaultParams()})
	rec = httptest.NewRecorder()
	h.JobsHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs", &body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var res pipeline.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.JobID == "" {
		t.Error("job ID was not assigned")
	}
}

func TestJobsHandlerWithoutRunner(t *testing.T) {
	h := NewHandler(fakeInvoker(t), nil, nil)
	rec := httptest.NewRecorder()
	h.JobsHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{}")))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
