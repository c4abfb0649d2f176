package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesSyncMetrics(t *testing.T) {
	var r Recorder = Prometheus{}
	r.Publish("ok", 0.01)
	r.Snapshot("echo")
	r.SubscriptionOpened()
	r.SubscriptionClosed()
	r.Move("accepted")

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"cheese_sync_publish_total", "cheese_sync_snapshot_total", "cheese_session_moves_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing", name)
		}
	}
}
