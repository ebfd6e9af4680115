package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/events"
	"github.com/disparo-io/disparo/internal/jobs"
)

type fakeCampaigns struct {
	byID     map[int64]*db.Campaign
	statuses map[int64]string
}

func (f *fakeCampaigns) Get(ctx context.Context, id int64) (*db.Campaign, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) SetStatus(ctx context.Context, id int64, status string) error {
	f.statuses[id] = status
	if c, ok := f.byID[id]; ok {
		c.Status = status
	}
	return nil
}

type fakeQueue struct {
	names []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, name string, payload any, opts jobs.Options) (string, error) {
	q.names = append(q.names, name)
	return "job-1", nil
}

func (q *fakeQueue) EnqueueUnique(ctx context.Context, id, name string, payload any, opts jobs.Options) (string, bool, error) {
	q.names = append(q.names, name)
	return id, true, nil
}

type fakeEvents struct {
	published int
}

func (f *fakeEvents) Publish(ctx context.Context, tenantID int64, name string, event events.Event) {
	f.published++
}

func newTestServer(campaigns *fakeCampaigns, queue *fakeQueue, sink *fakeEvents) *httptest.Server {
	h := NewHandler(zap.NewNop(), campaigns, queue, sink)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return httptest.NewServer(r)
}

func postStatus(t *testing.T, url string) (int, CampaignResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body CampaignResponse
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestCancelCampaign(t *testing.T) {
	campaigns := &fakeCampaigns{
		byID:     map[int64]*db.Campaign{1: {ID: 1, TenantID: 4, Status: db.CampaignInProgress}},
		statuses: make(map[int64]string),
	}
	sink := &fakeEvents{}
	srv := newTestServer(campaigns, &fakeQueue{}, sink)
	defer srv.Close()

	status, body := postStatus(t, srv.URL+"/v1/campaigns/1/cancel")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body.Status != db.CampaignCanceled {
		t.Fatalf("body status = %q, want CANCELED", body.Status)
	}
	if campaigns.statuses[1] != db.CampaignCanceled {
		t.Fatalf("stored status = %q", campaigns.statuses[1])
	}
	if sink.published != 1 {
		t.Fatalf("published %d events, want 1", sink.published)
	}
}

func TestCancelCampaignInvalidTransition(t *testing.T) {
	campaigns := &fakeCampaigns{
		byID:     map[int64]*db.Campaign{1: {ID: 1, Status: db.CampaignFinished}},
		statuses: make(map[int64]string),
	}
	srv := newTestServer(campaigns, &fakeQueue{}, &fakeEvents{})
	defer srv.Close()

	status, _ := postStatus(t, srv.URL+"/v1/campaigns/1/cancel")
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	if len(campaigns.statuses) != 0 {
		t.Fatal("finished campaign must not change status")
	}
}

func TestCancelCampaignNotFound(t *testing.T) {
	campaigns := &fakeCampaigns{byID: map[int64]*db.Campaign{}, statuses: make(map[int64]string)}
	srv := newTestServer(campaigns, &fakeQueue{}, &fakeEvents{})
	defer srv.Close()

	status, _ := postStatus(t, srv.URL+"/v1/campaigns/99/cancel")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestCancelCampaignBadID(t *testing.T) {
	campaigns := &fakeCampaigns{byID: map[int64]*db.Campaign{}, statuses: make(map[int64]string)}
	srv := newTestServer(campaigns, &fakeQueue{}, &fakeEvents{})
	defer srv.Close()

	status, _ := postStatus(t, srv.URL+"/v1/campaigns/abc/cancel")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestRestartCampaign(t *testing.T) {
	campaigns := &fakeCampaigns{
		byID:     map[int64]*db.Campaign{1: {ID: 1, TenantID: 4, Status: db.CampaignCanceled}},
		statuses: make(map[int64]string),
	}
	queue := &fakeQueue{}
	sink := &fakeEvents{}
	srv := newTestServer(campaigns, queue, sink)
	defer srv.Close()

	status, body := postStatus(t, srv.URL+"/v1/campaigns/1/restart")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body.Status != db.CampaignInProgress {
		t.Fatalf("body status = %q, want IN_PROGRESS", body.Status)
	}
	if len(queue.names) != 1 || queue.names[0] != "campaign:process" {
		t.Fatalf("enqueued jobs = %v, want one campaign:process", queue.names)
	}
	if sink.published != 1 {
		t.Fatalf("published %d events, want 1", sink.published)
	}
}

func TestRestartCampaignInvalidTransition(t *testing.T) {
	campaigns := &fakeCampaigns{
		byID:     map[int64]*db.Campaign{1: {ID: 1, Status: db.CampaignInProgress}},
		statuses: make(map[int64]string),
	}
	queue := &fakeQueue{}
	srv := newTestServer(campaigns, queue, &fakeEvents{})
	defer srv.Close()

	status, _ := postStatus(t, srv.URL+"/v1/campaigns/1/restart")
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	if len(queue.names) != 0 {
		t.Fatal("invalid restart must not enqueue")
	}
}
