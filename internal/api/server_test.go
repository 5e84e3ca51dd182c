package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stampscore/stampscore/internal/app/passport"
	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/logger"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakePassports struct {
	reports map[string]passport.Report
	events  []domain.Event
	err     error

	gotFrom, gotTo, gotAt time.Time
}

func (f *fakePassports) Report(_ context.Context, cid int64, addr string) (passport.Report, error) {
	if f.err != nil {
		return passport.Report{}, f.err
	}
	r, ok := f.reports[fmt.Sprintf("%d/%s", cid, addr)]
	if !ok {
		return passport.Report{}, fmt.Errorf("%w: passport %d/%s", domain.ErrScoreNotFound, cid, addr)
	}
	return r, nil
}

func (f *fakePassports) History(_ context.Context, _ int64, _ string, from, to time.Time) ([]domain.Event, error) {
	f.gotFrom, f.gotTo = from, to
	return f.events, f.err
}

func (f *fakePassports) ScoreAt(ctx context.Context, cid int64, addr string, t time.Time) (passport.Report, error) {
	f.gotAt = t
	return f.Report(ctx, cid, addr)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, p *fakePassports, db Pinger) http.Handler {
	t.Helper()
	s := NewServer(p, db, logger.NewNop())
	s.EnableMetrics()
	return s.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakePassports{}, fakePinger{})
	w := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	down := newTestServer(t, &fakePassports{}, fakePinger{err: domain.ErrInfrastructure})
	if w := get(t, down, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the store is down, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, &fakePassports{}, nil)
	w := get(t, h, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReport(t *testing.T) {
	score := "1"
	p := &fakePassports{reports: map[string]passport.Report{
		"7/0xaaa": {CommunityID: 7, Address: "0xaaa", Score: &score, Status: domain.StatusDone},
	}}
	h := newTestServer(t, p, nil)

	w := get(t, h, "/api/passports/7/0xAAA")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["score"] != "1" {
		t.Errorf("expected score=1, got %v", resp["score"])
	}
	if resp["status"] != string(domain.StatusDone) {
		t.Errorf("expected status DONE, got %v", resp["status"])
	}
}

func TestReport_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"bad community", "/api/passports/abc/0xaaa", nil, http.StatusBadRequest},
		{"unknown passport", "/api/passports/7/0xbbb", nil, http.StatusNotFound},
		{"store down", "/api/passports/7/0xaaa", fmt.Errorf("%w: disk", domain.ErrInfrastructure), http.StatusServiceUnavailable},
		{"contention", "/api/passports/7/0xaaa", domain.ErrStaleWrite, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakePassports{err: tt.err}, nil)
			if w := get(t, h, tt.path); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	p := &fakePassports{}
	h := newTestServer(t, p, nil)

	w := get(t, h, "/api/passports/7/0xaaa/history?from=2024-01-01T00:00:00Z&to=2024-02-01T00:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !p.gotFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", p.gotFrom)
	}
	if !p.gotTo.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", p.gotTo)
	}
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Events == nil || len(resp.Events) != 0 {
		t.Errorf("expected an empty events array, got %v", resp.Events)
	}

	if w := get(t, h, "/api/passports/7/0xaaa/history?from=yesterday"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad timestamp, got %d", w.Code)
	}
}

func TestScoreAt(t *testing.T) {
	p := &fakePassports{reports: map[string]passport.Report{
		"7/0xaaa": {CommunityID: 7, Address: "0xaaa", Status: domain.StatusDone},
	}}
	h := newTestServer(t, p, nil)

	w := get(t, h, "/api/passports/7/0xaaa/at?t=2024-03-01T12:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !p.gotAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("at = %v", p.gotAt)
	}

	p.err = fmt.Errorf("%w: none", domain.ErrEventNotFound)
	if w := get(t, h, "/api/passports/7/0xaaa/at?t=2020-01-01T00:00:00Z"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before the first score, got %d", w.Code)
	}
}
