package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/mjasion/balena-home/victron/pkg/buffer"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

func decodeWriteRequest(t *testing.T, r *http.Request) *prompb.WriteRequest {
	t.Helper()

	compressed, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("failed to read body: %v", err)
		return nil
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		t.Errorf("body is not snappy encoded: %v", err)
		return nil
	}
	var req prompb.WriteRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		t.Errorf("body is not a WriteRequest: %v", err)
		return nil
	}
	return &req
}

func newTestPusher(url string, buf *buffer.RingBuffer[*types.Reading], batchSize, attempts int) *Pusher {
	return New(Config{
		URL:               url,
		Username:          "user",
		Password:          "secret",
		PushIntervalSec:   1,
		BatchSize:         batchSize,
		TimeSeriesBuilder: CombineBuilders(BuildVictronTimeSeries, BuildMetricTimeSeries),
		MaxAttempts:       attempts,
		RetryBackoff:      time.Millisecond,
	}, buf, zap.NewNop())
}

func TestPush_RequestFormat(t *testing.T) {
	var seriesCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-protobuf" {
			t.Errorf("Expected protobuf content type, got %s", got)
		}
		if got := r.Header.Get("Content-Encoding"); got != "snappy" {
			t.Errorf("Expected snappy encoding, got %s", got)
		}
		if got := r.Header.Get("X-Prometheus-Remote-Write-Version"); got != "0.1.0" {
			t.Errorf("Expected remote write version 0.1.0, got %s", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			t.Errorf("Expected basic auth user/secret, got %s/%s (%v)", user, pass, ok)
		}
		if req := decodeWriteRequest(t, r); req != nil {
			seriesCount.Store(int32(len(req.Timeseries)))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	p := newTestPusher(server.URL, buf, 10, 1)

	err := p.Push(context.Background(), []*types.Reading{victronReading(time.Now(), 1200)})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if seriesCount.Load() != 6 {
		t.Errorf("Expected 6 time series, got %d", seriesCount.Load())
	}
}

func TestPush_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPusher(server.URL, buffer.New[*types.Reading](10, zap.NewNop()), 10, 3)

	before := p.LastPushTime()
	if err := p.Push(context.Background(), []*types.Reading{victronReading(time.Now(), 1200)}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if p.LastPushTime().Before(before) {
		t.Error("Expected last push time to move forward")
	}
}

func TestPush_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer server.Close()

	p := newTestPusher(server.URL, buffer.New[*types.Reading](10, zap.NewNop()), 10, 2)

	if err := p.Push(context.Background(), []*types.Reading{victronReading(time.Now(), 1200)}); err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
}

func TestPush_NoBuilder(t *testing.T) {
	p := New(Config{URL: "http://127.0.0.1:0", PushIntervalSec: 1, BatchSize: 1}, buffer.New[*types.Reading](1, zap.NewNop()), zap.NewNop())
	if err := p.Push(context.Background(), []*types.Reading{victronReading(time.Now(), 1200)}); err == nil {
		t.Error("Expected error without a time series builder")
	}
}

func TestFlush_Batches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	for i := 0; i < 5; i++ {
		buf.Add(victronReading(time.Now(), 1200))
	}

	p := newTestPusher(server.URL, buf, 2, 1)
	if pushed := p.Flush(context.Background()); pushed != 5 {
		t.Errorf("Expected 5 pushed readings, got %d", pushed)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 batches, got %d", calls.Load())
	}
	if buf.Size() != 0 {
		t.Errorf("Expected empty buffer, got %d", buf.Size())
	}
}

func TestFlush_RebuffersFailedBatches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first batch succeeds, everything after fails
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	for i := 0; i < 5; i++ {
		buf.Add(victronReading(time.Now(), 1200))
	}

	p := newTestPusher(server.URL, buf, 2, 1)
	if pushed := p.Flush(context.Background()); pushed != 2 {
		t.Errorf("Expected 2 pushed readings, got %d", pushed)
	}
	if buf.Size() != 3 {
		t.Errorf("Expected 3 readings back in the buffer, got %d", buf.Size())
	}
}

func TestFlush_Empty(t *testing.T) {
	p := newTestPusher("http://127.0.0.1:0", buffer.New[*types.Reading](1, zap.NewNop()), 1, 1)
	stale := time.Now().Add(-time.Hour)
	p.lastPush = stale

	if pushed := p.Flush(context.Background()); pushed != 0 {
		t.Errorf("Expected 0 pushed readings, got %d", pushed)
	}
	// an idle round counts as a push so health checks stay green
	if !p.LastPushTime().After(stale) {
		t.Error("Expected last push time to move forward on an empty flush")
	}
}

func TestFlush_FailureKeepsLastPushTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	buf.Add(victronReading(time.Now(), 1200))

	p := newTestPusher(server.URL, buf, 10, 1)
	stale := time.Now().Add(-time.Hour)
	p.lastPush = stale

	p.Flush(context.Background())
	if !p.LastPushTime().Equal(stale) {
		t.Errorf("Expected last push time to stay at %v, got %v", stale, p.LastPushTime())
	}
}
