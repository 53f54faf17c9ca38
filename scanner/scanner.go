package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/victron/decoder"
	"github.com/mjasion/balena-home/victron/pkg/buffer"
	"github.com/mjasion/balena-home/victron/pkg/readout"
	"github.com/mjasion/balena-home/victron/pkg/types"
	"github.com/mjasion/balena-home/victron/stats"
)

// DeviceConfig represents a single Victron device to listen for
type DeviceConfig struct {
	Name       string
	ID         int
	MACAddress string
	Key        []byte
}

type deviceInfo struct {
	name string
	id   int
	key  []byte
}

// Scanner listens for Victron Instant Readout advertisements from the
// configured devices and buffers the decoded readouts.
type Scanner struct {
	adapter *bluetooth.Adapter
	devices map[string]deviceInfo // keyed by upper-case MAC
	buffer  *buffer.RingBuffer[*types.Reading]
	stats   *stats.Stats
	logger  *zap.Logger

	mu     sync.Mutex
	lastIV map[string]uint16
}

// New creates a new BLE scanner
func New(devices []DeviceConfig, buf *buffer.RingBuffer[*types.Reading], st *stats.Stats, logger *zap.Logger) *Scanner {
	devMap := make(map[string]deviceInfo, len(devices))
	for _, d := range devices {
		mac := strings.ToUpper(strings.TrimSpace(d.MACAddress))
		devMap[mac] = deviceInfo{name: d.Name, id: d.ID, key: d.Key}
	}

	return &Scanner{
		adapter: bluetooth.DefaultAdapter,
		devices: devMap,
		buffer:  buf,
		stats:   st,
		logger:  logger,
		lastIV:  make(map[string]uint16),
	}
}

// Start enables the adapter and scans until Stop is called or ctx is done.
// It blocks while scanning.
func (s *Scanner) Start(ctx context.Context) error {
	s.logger.Info("initializing BLE adapter")

	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	macs := make([]string, 0, len(s.devices))
	for mac := range s.devices {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	s.logger.Info("starting BLE scan",
		zap.Int("device_count", len(s.devices)),
		zap.Strings("macs", macs),
	)

	err := s.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		select {
		case <-ctx.Done():
			adapter.StopScan()
			return
		default:
		}

		s.HandleAdvertisement(ctx, result.Address.String(), result.RSSI, result.ManufacturerData())
	})
	if err != nil {
		return fmt.Errorf("failed to start BLE scan: %w", err)
	}

	return nil
}

// Stop stops the BLE scanner
func (s *Scanner) Stop() error {
	s.logger.Info("stopping BLE scan")
	if err := s.adapter.StopScan(); err != nil {
		return fmt.Errorf("failed to stop BLE scan: %w", err)
	}
	return nil
}

// HandleAdvertisement processes the manufacturer data of one advertisement.
// Only configured MACs and Victron company data are considered; a payload
// repeating the IV of the device's last decoded readout carries an unchanged
// readout and is dropped. Returns the number of readouts buffered.
func (s *Scanner) HandleAdvertisement(ctx context.Context, address string, rssi int16, elements []bluetooth.ManufacturerDataElement) int {
	mac := strings.ToUpper(address)
	dev, found := s.devices[mac]
	if !found {
		return 0
	}

	added := 0
	for _, el := range elements {
		if el.CompanyID != decoder.ManufacturerID {
			continue
		}

		container, err := readout.FromData(el.Data)
		if err != nil {
			s.fail(ctx, dev, mac, err)
			continue
		}

		if s.repeated(mac, container.IV) {
			s.stats.Record(ctx, dev.name, stats.OutcomeDuplicate)
			s.logger.Debug("dropping repeated advertisement",
				zap.String("device_name", dev.name),
				zap.String("mac", mac),
				zap.Uint16("iv", container.IV),
			)
			continue
		}

		r, err := decoder.DecodeAdvertisement(el.Data, dev.key, rssi)
		if err != nil {
			s.fail(ctx, dev, mac, err)
			continue
		}

		s.remember(mac, r.IV)
		s.buffer.Add(&types.Reading{
			Type: types.ReadingTypeVictron,
			Victron: &types.VictronReading{
				Timestamp:   r.Timestamp,
				MAC:         mac,
				DeviceName:  dev.name,
				DeviceID:    dev.id,
				ModelID:     r.ModelID,
				ReadoutType: r.ReadoutType,
				IV:          r.IV,
				RSSI:        r.RSSI,
				Record:      r.Record,
			},
		})
		s.stats.Record(ctx, dev.name, stats.OutcomeDecoded)
		added++

		fields := []zap.Field{
			zap.String("device_name", dev.name),
			zap.Int("device_id", dev.id),
			zap.String("mac", mac),
			zap.String("model_id", fmt.Sprintf("0x%04X", r.ModelID)),
			zap.Uint16("iv", r.IV),
			zap.Int16("rssi_dbm", r.RSSI),
		}
		recordFields := r.Record.Fields()
		keys := make([]string, 0, len(recordFields))
		for k := range recordFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, zap.Any(k, recordFields[k]))
		}
		s.logger.Info("victron_readout", fields...)
	}

	return added
}

// repeated reports whether iv is the IV of the last readout decoded for mac
func (s *Scanner) repeated(mac string, iv uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastIV[mac]
	return ok && last == iv
}

// remember records iv once its readout decoded, so payloads that failed to
// decode never suppress a later valid one
func (s *Scanner) remember(mac string, iv uint16) {
	s.mu.Lock()
	s.lastIV[mac] = iv
	s.mu.Unlock()
}

func (s *Scanner) fail(ctx context.Context, dev deviceInfo, mac string, err error) {
	outcome := stats.Classify(err)
	s.stats.Record(ctx, dev.name, outcome)
	s.logger.Warn("failed to decode victron advertisement",
		zap.String("device_name", dev.name),
		zap.String("mac", mac),
		zap.String("outcome", string(outcome)),
		zap.Error(err),
	)
}
