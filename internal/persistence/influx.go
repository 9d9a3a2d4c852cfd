package persistence

import (
	"encoding/hex"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig holds InfluxDB connection configuration
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxBackend writes share events as time-series points. The underlying
// WriteAPI is asynchronous, so PersistEvent is non-blocking by construction;
// write failures surface on an error channel and are logged.
type InfluxBackend struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// NewInfluxBackend connects to InfluxDB and starts draining its write errors.
func NewInfluxBackend(cfg *InfluxConfig, logger *slog.Logger) *InfluxBackend {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	b := &InfluxBackend{
		client:   client,
		writeAPI: writeAPI,
		logger:   logger,
	}

	go func() {
		for err := range writeAPI.Errors() {
			logger.Error("influx share event write failed", "error", err)
		}
	}()

	logger.Info("initialized influx persistence backend",
		"url", cfg.URL, "bucket", cfg.Bucket)
	return b
}

// PersistEvent writes the event as a point in the share_events measurement.
func (b *InfluxBackend) PersistEvent(event ShareEvent) {
	point := influxdb2.NewPoint(
		"share_events",
		map[string]string{
			"user_identity": event.UserIdentity,
			"valid":         boolTag(event.IsValid),
			"block_found":   boolTag(event.IsBlockFound),
		},
		map[string]interface{}{
			"share_work":        event.ShareWork,
			"nominal_hash_rate": float64(event.NominalHashRate),
			"nonce":             int64(event.Nonce),
			"ntime":             int64(event.NTime),
			"version":           int64(event.Version),
			"share_hash":        event.ShareHash.String(),
			"target":            hex.EncodeToString(event.Target[:]),
			"error_code":        event.ErrorCode,
		},
		event.Timestamp,
	)

	b.writeAPI.WritePoint(point)
}

// Flush forces buffered points out to the server.
func (b *InfluxBackend) Flush() {
	b.writeAPI.Flush()
}

// Shutdown flushes and closes the client.
func (b *InfluxBackend) Shutdown() {
	b.writeAPI.Flush()
	b.client.Close()
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
