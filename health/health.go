package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron/pkg/buffer"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/mjasion/balena-home/victron/stats"
)

// Status is the JSON body served on /health
type Status struct {
	Status           string            `json:"status"`
	LastPushTime     time.Time         `json:"lastPushTime"`
	BufferedReadings int               `json:"bufferedReadings"`
	DroppedReadings  uint64            `json:"droppedReadings"`
	Decoded          map[string]uint64 `json:"decoded"`
}

type lastPusher interface {
	LastPushTime() time.Time
}

// Checker serves the health endpoint. The service is unhealthy once no
// push succeeded for three push intervals.
type Checker struct {
	buffer       *buffer.RingBuffer[*types.Reading]
	pusher       lastPusher
	stats        *stats.Stats
	pushInterval time.Duration
	server       *http.Server
	logger       *zap.Logger
	now          func() time.Time
}

// NewChecker creates a Checker listening on port
func NewChecker(buf *buffer.RingBuffer[*types.Reading], pusher lastPusher, st *stats.Stats, pushInterval time.Duration, port int, logger *zap.Logger) *Checker {
	c := &Checker{
		buffer:       buf,
		pusher:       pusher,
		stats:        st,
		pushInterval: pushInterval,
		logger:       logger,
		now:          time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.handleHealth)

	c.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return c
}

// Start serves until Stop is called
func (c *Checker) Start() error {
	c.logger.Info("starting health check server", zap.String("addr", c.server.Addr))
	if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server error: %w", err)
	}
	return nil
}

// Stop closes the server
func (c *Checker) Stop() error {
	return c.server.Close()
}

// Check builds the current status and reports whether it is healthy
func (c *Checker) Check() (Status, bool) {
	lastPush := c.pusher.LastPushTime()

	status := Status{
		Status:           "healthy",
		LastPushTime:     lastPush,
		BufferedReadings: c.buffer.Size(),
		DroppedReadings:  c.buffer.Dropped(),
		Decoded:          make(map[string]uint64),
	}
	if c.stats != nil {
		for _, dc := range c.stats.Snapshot() {
			status.Decoded[dc.Device] = dc.Counts[stats.OutcomeDecoded]
		}
	}

	if !lastPush.IsZero() && c.now().Sub(lastPush) > 3*c.pushInterval {
		status.Status = "unhealthy"
		return status, false
	}
	return status, true
}

func (c *Checker) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, healthy := c.Check()

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		c.logger.Debug("failed to write health response", zap.Error(err))
	}
}
