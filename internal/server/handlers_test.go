package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/catalog"
	"github.com/costwise/pricematch/internal/config"
	"github.com/costwise/pricematch/internal/embedding"
	"github.com/costwise/pricematch/internal/job"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/storage"
)

func testServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.NewIndex("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	factory := func(models.Model) (embedding.Embedder, error) {
		return embedding.NewMockEmbedder(64), nil
	}
	processor := job.NewProcessor(store, factory, job.Config{MaxConcurrent: 2})
	if err := processor.Start(context.Background()); err != nil {
		t.Fatalf("processor: %v", err)
	}
	t.Cleanup(processor.Stop)

	srv := NewServer(processor, store, cat, &config.ServerConfig{}, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv
}

func seedPriceList(t *testing.T, ts *httptest.Server) {
	t.Helper()
	body := map[string]interface{}{
		"entries": []models.PriceListEntry{
			{ID: "pl_1", Description: "Excavation in ordinary soil", Rate: 450, Unit: "m3"},
			{ID: "pl_2", Description: "Concrete grade C25 in foundations", Rate: 7200, Unit: "m3"},
		},
	}
	resp := postJSON(t, ts, "/api/v1/pricelist", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed price list: status %d", resp.StatusCode)
	}
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func submitJob(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts, "/api/v1/jobs", map[string]interface{}{
		"file_name": "inquiry.csv",
		"model":     "cohere",
		"items": []models.InquiryItem{
			{Description: "Excavation in soil", Unit: "m3", Quantity: 120},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &out)
	if out.ID == "" {
		t.Fatal("submit returned empty id")
	}
	return out.ID
}

func waitCompleted(t *testing.T, ts *httptest.Server, id string) models.MatchingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/v1/jobs/" + id)
		if err != nil {
			t.Fatal(err)
		}
		var j models.MatchingJob
		decodeJSON(t, resp, &j)
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return models.MatchingJob{}
}

func TestSubmitAndGetJob(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)

	id := submitJob(t, ts)
	j := waitCompleted(t, ts, id)
	if j.Status != models.StatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", j.Status, j.Error)
	}
	if len(j.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(j.Results))
	}
	if j.Results[0].MatchedRate == 0 {
		t.Error("matched rate not populated")
	}
}

func TestSubmitJobValidation(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)

	resp := postJSON(t, ts, "/api/v1/jobs", map[string]interface{}{
		"model": "llama",
		"items": []models.InquiryItem{{Description: "x"}},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown model: status %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/v1/jobs", map[string]interface{}{"model": "cohere"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("no items: status %d, want 400", resp.StatusCode)
	}
}

func TestSubmitJobMultipart(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "boq.csv")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "Description,Unit,Quantity\nExcavation in soil,m3,120\n")
	mw.WriteField("model", "openai")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/jobs", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("multipart submit: status %d", resp.StatusCode)
	}

	j := waitCompleted(t, ts, out.ID)
	if j.Status != models.StatusCompleted {
		t.Fatalf("status = %s (error %q)", j.Status, j.Error)
	}
	if j.FileName != "boq.csv" {
		t.Errorf("file name = %q", j.FileName)
	}
	if j.Model != models.ModelOpenAI {
		t.Errorf("model = %q", j.Model)
	}
}

func TestSubmitBatchMultipart(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.csv", "b.csv"} {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(fw, "Description,Unit,Quantity\nConcrete C25,m3,35\n")
	}
	mw.WriteField("client_name", "Acme Builders")
	mw.WriteField("project_name", "Warehouse 7")
	mw.WriteField("model", "cohere")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/jobs/batch", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		ID     string   `json:"id"`
		JobIDs []string `json:"job_ids"`
	}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("batch submit: status %d", resp.StatusCode)
	}
	if len(out.JobIDs) != 2 {
		t.Fatalf("job_ids = %d, want 2", len(out.JobIDs))
	}

	for _, id := range out.JobIDs {
		waitCompleted(t, ts, id)
	}

	resp, err = http.Get(ts.URL + "/api/v1/batches/" + out.ID)
	if err != nil {
		t.Fatal(err)
	}
	var batchOut struct {
		Batch models.BatchJob      `json:"batch"`
		Jobs  []models.MatchingJob `json:"jobs"`
	}
	decodeJSON(t, resp, &batchOut)
	if batchOut.Batch.Status != models.StatusCompleted {
		t.Errorf("batch status = %s, want completed", batchOut.Batch.Status)
	}
	if batchOut.Batch.ClientName != "Acme Builders" {
		t.Errorf("client name = %q", batchOut.Batch.ClientName)
	}
	if len(batchOut.Jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(batchOut.Jobs))
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/job_missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportJob(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)
	id := submitJob(t, ts)
	waitCompleted(t, ts, id)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + id + "/export?format=csv")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, id+".csv") {
		t.Errorf("content disposition = %q", cd)
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.String(), "Excavation in soil") {
		t.Errorf("export body missing source description:\n%s", body.String())
	}
}

func TestExportJobNotReady(t *testing.T) {
	ts, srv := testServer(t)
	// No price list: the job fails, and a failed job has no exportable results.
	id := submitJob(t, ts)
	waitCompleted(t, ts, id)

	if _, _, err := srv.processor.ExportResults(id, "csv"); err == nil {
		t.Fatal("export of failed job succeeded")
	}
	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + id + "/export?format=csv")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestStreamJobProgress(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)
	id := submitJob(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/jobs/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last models.ProgressEvent
	prev := -1
	for {
		var ev models.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		if ev.Percent < prev {
			t.Fatalf("progress went backwards: %d after %d", ev.Percent, prev)
		}
		prev = ev.Percent
		last = ev
		if ev.Done {
			break
		}
	}
	if !last.Done || last.Percent != 100 {
		t.Errorf("final event = %+v, want done at 100", last)
	}
}

func TestPriceListSearch(t *testing.T) {
	ts, _ := testServer(t)
	seedPriceList(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/pricelist/search?q=concrete+foundations")
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Results []catalog.Result `json:"results"`
	}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: status %d", resp.StatusCode)
	}
	if len(out.Results) == 0 || out.Results[0].Entry.ID != "pl_2" {
		t.Errorf("results = %+v, want pl_2 first", out.Results)
	}

	resp, err = http.Get(ts.URL + "/api/v1/pricelist/search?q=")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query: status %d, want 400", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrValidation, http.StatusBadRequest},
		{models.ErrJobNotReady, http.StatusConflict},
		{models.ErrNoReferenceData, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: job queue full", models.ErrBusy), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHealth(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status %d", resp.StatusCode)
	}
	if out["status"] != "ok" {
		t.Errorf("health body = %v", out)
	}
}
