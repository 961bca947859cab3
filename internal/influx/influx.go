package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/aseanmotorclub/roadwatch/internal/model"
	"github.com/aseanmotorclub/roadwatch/internal/queue"
)

// Bucket names for telemetry export.
const (
	BucketActions   = "enforcement_actions"
	BucketTelemetry = "server_telemetry"
)

// DefaultBucketNames are the buckets ensured at startup.
var DefaultBucketNames = []string{
	BucketActions,
	BucketTelemetry,
}

// Manager handles InfluxDB connections and writes. A manager that fails
// to connect stays invalid and drops writes silently; telemetry export
// is never load-bearing.
type Manager struct {
	Client      influxdb2.Client
	Writers     map[string]influxdb2_api.WriteAPI
	IsValid     bool
	BucketNames []string
	Logger      zerolog.Logger
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(context.Background())
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Warn().Err(err).Msg("InfluxDB unreachable, telemetry export disabled")
		return nil
	}

	if err := m.setupOrganizationAndBuckets(); err != nil {
		return err
	}
	m.CreateWriters()
	m.IsValid = true
	m.Logger.Info().Msg("InfluxDB client initialized")

	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := viper.GetString("influx.org")

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 90, // 90 days
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	orgName := viper.GetString("influx.org")
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(orgName, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB. Writes against an invalid
// manager are dropped.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if !m.IsValid {
		return nil
	}
	w, ok := m.Writers[bucket]
	if !ok {
		return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
	}
	w.WritePoint(point)
	return nil
}

// FlushActions drains the action queue into the actions bucket.
func (m *Manager) FlushActions(actions *queue.Queue[model.ActionRecord]) error {
	records := actions.Drain()
	if len(records) == 0 || !m.IsValid {
		return nil
	}

	for _, rec := range records {
		point := influxdb2_write.NewPointWithMeasurement("action").
			AddTag("kind", string(rec.Kind)).
			AddTag("rule", rec.Rule).
			AddField("uniqueId", rec.UniqueID).
			AddField("amount", rec.Amount)
		if rec.SpeedKMH > 0 {
			point.AddField("kmh", rec.SpeedKMH)
		}
		point.SetTime(rec.Time)

		if err := m.WritePoint(BucketActions, point); err != nil {
			return err
		}
	}
	return nil
}

// WriteSpeedSample records one derived speed observation.
func (m *Manager) WriteSpeedSample(uniqueID string, kmh float64, now time.Time) {
	point := influxdb2_write.NewPointWithMeasurement("speed").
		AddTag("uniqueId", uniqueID).
		AddField("kmh", kmh).
		SetTime(now)

	if err := m.WritePoint(BucketTelemetry, point); err != nil {
		m.Logger.Error().Err(err).Msg("Error writing speed sample")
	}
}

// WritePollStatus records the outcome of one polling cycle.
func (m *Manager) WritePollStatus(loop string, ok bool, entityCount int, elapsed time.Duration) {
	point := influxdb2_write.NewPointWithMeasurement("poll").
		AddTag("loop", loop).
		AddField("ok", ok).
		AddField("entities", entityCount).
		AddField("durationMs", float64(elapsed.Milliseconds())).
		SetTime(time.Now())

	if err := m.WritePoint(BucketTelemetry, point); err != nil {
		m.Logger.Error().Err(err).Msg("Error writing poll status")
	}
}

// Close flushes pending writes and closes the client.
func (m *Manager) Close() {
	if m.Client == nil {
		return
	}
	for _, w := range m.Writers {
		w.Flush()
	}
	m.Client.Close()
	m.IsValid = false
}
