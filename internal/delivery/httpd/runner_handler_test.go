package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/homework"
	"github.com/railgunhq/railgun/internal/models"
	"github.com/railgunhq/railgun/internal/reporting"
	"github.com/railgunhq/railgun/internal/service"
)

const testKey = "unit-test-key"

type fakeHandinService struct {
	startErr  error
	reportErr error
	scores    []*models.Score
}

func (f *fakeHandinService) Start(ctx context.Context, uuid string, req models.StartRequest) error {
	if req.UUID != uuid {
		return service.ErrUUIDMismatch
	}
	return f.startErr
}

func (f *fakeHandinService) Report(ctx context.Context, uuid string, score *models.Score) error {
	if f.reportErr != nil {
		return f.reportErr
	}
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeHandinService) Proclog(ctx context.Context, uuid string, req models.ProclogRequest) error {
	return nil
}

func (f *fakeHandinService) Get(ctx context.Context, uuid string) (*models.Handin, error) {
	return nil, service.ErrHandinNotFound
}

func (f *fakeHandinService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Handin, error) {
	return nil, nil
}

func (f *fakeHandinService) ListByHomework(ctx context.Context, hwid string, limit, offset int) ([]models.Handin, error) {
	return nil, nil
}

type fakeSubmissionService struct {
	resp *models.CreateHandinResponse
	err  error
}

func (f *fakeSubmissionService) SubmitArchive(ctx context.Context, hwid, lang, userID, fileName string,
	r io.Reader, size int64) (*models.CreateHandinResponse, error) {
	return f.resp, f.err
}

func (f *fakeSubmissionService) SubmitAddress(ctx context.Context, hwid, userID, address string) (*models.CreateHandinResponse, error) {
	return f.resp, f.err
}

func (f *fakeSubmissionService) SubmitData(ctx context.Context, hwid, userID, data string) (*models.CreateHandinResponse, error) {
	return f.resp, f.err
}

func (f *fakeSubmissionService) Homeworks() []*homework.Homework { return nil }

func (f *fakeSubmissionService) GetHomework(hwid string) (*homework.Homework, error) {
	return nil, service.ErrHomeworkNotFound
}

func newTestServer(t *testing.T, handins *fakeHandinService) *httptest.Server {
	t.Helper()
	handler := NewHandler(handins, &fakeSubmissionService{}, testKey, Health{}, zerolog.Nop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postEncrypted(t *testing.T, url string, key string, payload interface{}) (int, string) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := reporting.Encrypt(raw, []byte(key))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(enc))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestRunnerStartOK(t *testing.T) {
	srv := newTestServer(t, &fakeHandinService{})

	status, body := postEncrypted(t, srv.URL+"/api/handin/start/h1/", testKey,
		models.StartRequest{UUID: "h1"})
	if status != http.StatusOK || body != "OK" {
		t.Fatalf("start reply = %d %q", status, body)
	}
}

func TestRunnerReportRoundTrip(t *testing.T) {
	handins := &fakeHandinService{}
	srv := newTestServer(t, handins)

	score := models.Score{
		UUID:     "h1",
		Accepted: true,
		Partials: []models.PartialScore{{Name: "tests", Score: 1, Weight: 1}},
	}
	status, body := postEncrypted(t, srv.URL+"/api/handin/report/h1/", testKey, score)
	if status != http.StatusOK || body != "OK" {
		t.Fatalf("report reply = %d %q", status, body)
	}
	if len(handins.scores) != 1 || handins.scores[0].UUID != "h1" {
		t.Fatalf("scores = %+v", handins.scores)
	}
}

func TestRunnerWrongKeyRejected(t *testing.T) {
	srv := newTestServer(t, &fakeHandinService{})

	status, body := postEncrypted(t, srv.URL+"/api/handin/start/h1/", "wrong key",
		models.StartRequest{UUID: "h1"})
	if status != http.StatusBadRequest {
		t.Fatalf("reply = %d %q, want 400", status, body)
	}
	if body == "OK" {
		t.Fatal("undecryptable request must not be accepted")
	}
}

func TestRunnerUUIDMismatchConflict(t *testing.T) {
	srv := newTestServer(t, &fakeHandinService{})

	status, body := postEncrypted(t, srv.URL+"/api/handin/start/h1/", testKey,
		models.StartRequest{UUID: "h2"})
	if status != http.StatusConflict {
		t.Fatalf("reply = %d %q, want 409", status, body)
	}
}

// TestRunnerClientHitsRoutes drives the real reporting client against the
// registered routes, so the client's paths and the router's mounts cannot
// drift apart.
func TestRunnerClientHitsRoutes(t *testing.T) {
	handins := &fakeHandinService{}
	srv := newTestServer(t, handins)

	rep := reporting.NewClient(srv.URL+"/api", testKey, 5*time.Second, zerolog.Nop())
	ctx := context.Background()

	if err := rep.Start(ctx, "h1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rep.Report(ctx, &models.Score{
		UUID:     "h1",
		Accepted: true,
		Partials: []models.PartialScore{{Name: "tests", Score: 1, Weight: 1}},
	}); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	out := "done"
	if err := rep.Proclog(ctx, "h1", 0, &out, nil); err != nil {
		t.Fatalf("Proclog() error = %v", err)
	}
	if len(handins.scores) != 1 {
		t.Fatalf("scores = %+v", handins.scores)
	}
}

func TestRunnerDuplicateReportConflict(t *testing.T) {
	handins := &fakeHandinService{reportErr: service.ErrAlreadyFinished}
	srv := newTestServer(t, handins)

	status, body := postEncrypted(t, srv.URL+"/api/handin/report/h1/", testKey,
		models.Score{UUID: "h1"})
	if status != http.StatusConflict || body == "OK" {
		t.Fatalf("duplicate report reply = %d %q", status, body)
	}
}
