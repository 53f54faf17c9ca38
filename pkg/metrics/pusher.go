package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/mjasion/balena-home/victron/pkg/buffer"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = time.Second
)

// TimeSeriesBuilder is a function that converts readings to Prometheus time series
type TimeSeriesBuilder func(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error)

// Pusher drains the reading buffer and pushes it to a Prometheus remote_write endpoint
type Pusher struct {
	url          string
	username     string
	password     string
	client       *http.Client
	logger       *zap.Logger
	buffer       *buffer.RingBuffer[*types.Reading]
	pushInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryBackoff time.Duration
	tsBuilder    TimeSeriesBuilder

	// lastPush moves on every successful push and on every flush that had
	// nothing to send, so an idle service does not look stalled.
	mu       sync.Mutex
	lastPush time.Time
}

// Config contains configuration for the Prometheus pusher
type Config struct {
	URL               string
	Username          string
	Password          string
	PushIntervalSec   int
	BatchSize         int
	TimeSeriesBuilder TimeSeriesBuilder

	// MaxAttempts and RetryBackoff default to 3 attempts starting at 1s,
	// doubling after every failed attempt.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// New creates a new Prometheus pusher with OpenTelemetry instrumentation
func New(cfg Config, buf *buffer.RingBuffer[*types.Reading], logger *zap.Logger) *Pusher {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: otelhttp.NewTransport(
			http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return "prometheus.remote_write"
			}),
		),
	}

	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}

	return &Pusher{
		url:          cfg.URL,
		username:     cfg.Username,
		password:     cfg.Password,
		client:       httpClient,
		logger:       logger,
		buffer:       buf,
		pushInterval: time.Duration(cfg.PushIntervalSec) * time.Second,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
		tsBuilder:    cfg.TimeSeriesBuilder,
		lastPush:     time.Now(),
	}
}

// Start pushes the buffered readings every push interval until ctx is done
func (p *Pusher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.pushInterval),
		zap.Int("batch_size", p.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prometheus pusher stopping")
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the buffer and pushes it in batches. When a batch fails, it
// and all batches after it are put back into the buffer for the next round.
// Returns the number of readings pushed.
func (p *Pusher) Flush(ctx context.Context) int {
	readings := p.buffer.GetAllAndClear()
	if len(readings) == 0 {
		p.logger.Debug("no readings to push")
		p.markPushed()
		return 0
	}

	p.logger.Debug("pushing metrics to prometheus",
		zap.Int("total_readings", len(readings)),
		zap.Int("batch_size", p.batchSize),
	)

	pushed := 0
	totalBatches := (len(readings) + p.batchSize - 1) / p.batchSize
	for batchNum := 0; batchNum < totalBatches; batchNum++ {
		start := batchNum * p.batchSize
		end := min(start+p.batchSize, len(readings))
		batch := readings[start:end]

		if err := p.Push(ctx, batch); err != nil {
			p.logger.Error("failed to push batch, re-adding remaining readings to buffer",
				zap.Error(err),
				zap.Int("batch_number", batchNum+1),
				zap.Int("total_batches", totalBatches),
				zap.Int("failed_readings", len(readings)-start),
			)
			p.buffer.AddMultiple(readings[start:])
			break
		}

		pushed += len(batch)
		p.logger.Debug("successfully pushed batch",
			zap.Int("batch_number", batchNum+1),
			zap.Int("batch_readings", len(batch)),
		)
	}

	return pushed
}

// Push pushes readings to Prometheus with retry logic
func (p *Pusher) Push(ctx context.Context, readings []*types.Reading) error {
	tracer := otel.Tracer("metrics")
	ctx, span := tracer.Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("metrics.total_readings", len(readings)),
		),
	)
	defer span.End()

	if len(readings) == 0 {
		p.markPushed()
		span.SetStatus(codes.Ok, "no readings to push")
		return nil
	}

	typeCounts := make(map[types.ReadingType]int)
	for _, r := range readings {
		typeCounts[r.Type]++
	}
	for typ, count := range typeCounts {
		span.SetAttributes(
			attribute.Int(fmt.Sprintf("metrics.%s_readings", typ), count),
		)
	}

	writeReq, err := p.buildWriteRequest(ctx, readings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build write request")
		return fmt.Errorf("failed to build write request: %w", err)
	}

	if len(writeReq.Timeseries) == 0 {
		p.logger.Debug("readings produced no time series, skipping push")
		p.markPushed()
		span.SetStatus(codes.Ok, "no time series")
		return nil
	}

	span.AddEvent("write request built",
		trace.WithAttributes(
			attribute.Int("metrics.time_series_count", len(writeReq.Timeseries)),
		),
	)

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.pushOnce(ctx, writeReq)
		if err == nil {
			p.markPushed()

			logFields := []zap.Field{
				zap.Int("total_data_points", len(readings)),
				zap.Int("time_series", len(writeReq.Timeseries)),
				zap.Int("attempt", attempt),
			}
			for typ, count := range typeCounts {
				logFields = append(logFields, zap.Int(string(typ)+"_data_points", count))
			}
			p.logger.Info("successfully pushed metrics", logFields...)

			span.SetAttributes(attribute.Int("metrics.successful_attempt", attempt))
			span.SetStatus(codes.Ok, "metrics pushed successfully")
			return nil
		}

		lastErr = err
		p.logger.Warn("failed to push metrics, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.maxAttempts),
			zap.Error(err),
		)
		span.AddEvent("push attempt failed",
			trace.WithAttributes(
				attribute.Int("metrics.attempt", attempt),
				attribute.String("error", err.Error()),
			),
		)

		if attempt < p.maxAttempts {
			backoff := p.retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "push failed")
	return fmt.Errorf("failed to push metrics after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *Pusher) buildWriteRequest(ctx context.Context, readings []*types.Reading) (*prompb.WriteRequest, error) {
	if p.tsBuilder == nil {
		return nil, fmt.Errorf("no TimeSeriesBuilder configured")
	}

	timeSeries, err := p.tsBuilder(ctx, readings)
	if err != nil {
		return nil, fmt.Errorf("time series builder failed: %w", err)
	}

	return &prompb.WriteRequest{Timeseries: timeSeries}, nil
}

// pushOnce performs a single snappy-compressed remote_write request
func (p *Pusher) pushOnce(ctx context.Context, writeReq *prompb.WriteRequest) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.pushOnce")
	defer span.End()

	data, err := proto.Marshal(writeReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal protobuf")
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}

	compressed := snappy.Encode(nil, data)
	span.SetAttributes(
		attribute.Int("metrics.protobuf_size_bytes", len(data)),
		attribute.Int("metrics.compressed_size_bytes", len(compressed)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(compressed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request")
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.username != "" && p.password != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-2xx response")
		return err
	}

	span.SetStatus(codes.Ok, "push successful")
	return nil
}

func (p *Pusher) markPushed() {
	p.mu.Lock()
	p.lastPush = time.Now()
	p.mu.Unlock()
}

// LastPushTime returns the time of the last successful push, or of the last
// flush that found nothing to send
func (p *Pusher) LastPushTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPush
}
