package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Metrics(t *testing.T) {
	t.Log("Given the need to expose node metrics.")
	{
		AddRequests()
		AddErrors()
		AddBlock("accepted")
		AddBlock("accepted")
		AddBlock("rejected")
		SetHeadHeight(42)

		if got := testutil.ToFloat64(m.blocks.WithLabelValues("accepted")); got != 2 {
			t.Fatalf("\t%s\tShould count blocks by outcome, got %v", failed, got)
		}
		t.Logf("\t%s\tShould count blocks by outcome.", success)

		if got := testutil.ToFloat64(m.height); got != 42 {
			t.Fatalf("\t%s\tShould record the head height, got %v", failed, got)
		}
		t.Logf("\t%s\tShould record the head height.", success)

		r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		Handler().ServeHTTP(w, r)

		body := w.Body.String()
		for _, name := range []string{"btcnode_requests_total", "btcnode_head_height 42", `btcnode_blocks_total{status="rejected"} 1`} {
			if !strings.Contains(body, name) {
				t.Fatalf("\t%s\tShould expose %q.", failed, name)
			}
		}
		t.Logf("\t%s\tShould expose the metrics over http.", success)
	}
}
