package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Options{
		BaseURL:     srv.URL,
		AccessToken: "test-token",
		MaxInFlight: 10,
		PageSize:    100,
	})
	return client, srv
}

func writeEnvelope(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 0; attempt <= 6; attempt++ {
		for i := 0; i < 50; i++ {
			delay := backoffDelay(attempt)
			steps := attempt
			if steps > 5 {
				steps = 5
			}
			lo := time.Duration(float64(steps) * 0.75 * float64(time.Second))
			hi := time.Duration(float64(steps) * 1.25 * float64(time.Second))
			assert.GreaterOrEqual(t, delay, lo, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, hi, "attempt %d", attempt)
		}
	}
}

func TestGetItemDropsNilParamsAndAddsToken(t *testing.T) {
	var gotQuery atomic.Pointer[map[string][]string]
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string][]string(r.URL.Query())
		gotQuery.Store(&q)
		writeEnvelope(w, Envelope{Status: "ok", Data: map[string]any{"id": "123"}})
	}))

	item, err := client.GetItem(context.Background(), "facebook/post/123", Params{
		"load_comments": true,
		"max_comments":  nil,
		"order_by":      "date_desc",
	})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "123", item["id"])

	q := *gotQuery.Load()
	assert.Equal(t, []string{"test-token"}, q["access_token"])
	assert.Equal(t, []string{"1"}, q["load_comments"])
	assert.Equal(t, []string{"date_desc"}, q["order_by"])
	assert.NotContains(t, q, "max_comments")
}

func TestGetItemPreservesLargeNumericIDs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, Envelope{Status: "ok", Data: map[string]any{
			"id":       json.Number("9007199254740993"),
			"owner_id": json.Number("10158654321098765547"),
		}})
	}))

	// Both IDs are beyond float64's exact integer range; the first would
	// round to ...992 and the second overflows int64 entirely.
	item, err := client.GetItem(context.Background(), "facebook/post/9007199254740993", nil)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, json.Number("9007199254740993"), item["id"])
	assert.Equal(t, json.Number("10158654321098765547"), item["owner_id"])
}

func TestGetItemNotFoundIsAbsence(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, Envelope{Status: "fail", Error: &APIError{Code: "NotFoundError", Message: "gone"}})
	}))

	item, err := client.GetItem(context.Background(), "facebook/post/123", nil)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestGetItemOtherFailureIsRequestError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, Envelope{Status: "fail", Error: &APIError{Code: "AccessError", Message: "denied"}})
	}))

	_, err := client.GetItem(context.Background(), "facebook/post/123", nil)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "AccessError", reqErr.APIError.Code)
}

func TestCallRetriesRateLimitedResponses(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeEnvelope(w, Envelope{Status: "ok", Data: map[string]any{"id": "123"}})
	}))

	// Attempt 0 sleeps zero seconds, so the retry is immediate.
	item, err := client.GetItem(context.Background(), "facebook/post/123", nil)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallGivesUpOnPersistentlyUndecodableBody(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>502 Bad Gateway</html>"))
	}))

	_, err := client.GetItem(context.Background(), "facebook/post/123", nil)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallRetriesTransientUndecodableBody(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("<html>oops</html>"))
			return
		}
		writeEnvelope(w, Envelope{Status: "ok", Data: map[string]any{"id": "123"}})
	}))

	item, err := client.GetItem(context.Background(), "facebook/post/123", nil)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallAbortsOnContextCancel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.GetItem(ctx, "facebook/post/123", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestUpdateExpectsAccepted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/facebook/post/123/update", r.URL.Path)
		writeEnvelope(w, Envelope{Status: "accepted", Data: map[string]any{"task_id": "job-42"}})
	}))

	taskID, err := client.RequestUpdate(context.Background(), "facebook/post/123", nil)
	require.NoError(t, err)
	assert.Equal(t, "job-42", taskID)
}

func TestRequestUpdateRejectedIsError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, Envelope{Status: "fail", Error: &APIError{Code: "QuotaError"}})
	}))

	_, err := client.RequestUpdate(context.Background(), "facebook/post/123", nil)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "fail", reqErr.Status)
}

func TestUpdateStatusReturnsEnum(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/facebook/post/123/update", r.URL.Path)
		writeEnvelope(w, Envelope{Status: "ok", Data: map[string]any{"status": "finished"}})
	}))

	status, err := client.UpdateStatus(context.Background(), "facebook/post/123", nil)
	require.NoError(t, err)
	assert.Equal(t, "finished", status)
}

func TestInFlightCapIsEnforced(t *testing.T) {
	var active, peak atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		writeEnvelope(w, Envelope{Status: "ok", Data: map[string]any{}})
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Options{
		BaseURL:     srv.URL,
		AccessToken: "test-token",
		MaxInFlight: 3,
	})

	done := make(chan error, 12)
	for i := 0; i < 12; i++ {
		go func() {
			_, err := client.GetItem(context.Background(), "facebook/post/1", nil)
			done <- err
		}()
	}
	for i := 0; i < 12; i++ {
		require.NoError(t, <-done)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
