package errormonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/telemetry/health"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"
	"github.com/seangreaves-90/hydrogarden/telemetry/metrics"
)

func newTestMonitor(t *testing.T, opts ...Option) *Monitor {
	t.Helper()
	return New(logging.New(nil), metrics.NewNoopProvider(), opts...)
}

func TestMonitorReportDedupesWithinWindow(t *testing.T) {
	m := newTestMonitor(t, WithWindow(time.Minute))
	deviceID := models.NewComponentID()
	ctx := context.Background()

	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "sensor.read-failed", Recoverable: true})
	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "sensor.read-failed", Recoverable: true})

	active := m.GetActiveErrors(&deviceID)
	require.Len(t, active, 1, "two reports within the window for the same (device, code) must dedupe to one entry")
}

func TestMonitorReportDistinctCodesAreSeparate(t *testing.T) {
	m := newTestMonitor(t)
	deviceID := models.NewComponentID()
	ctx := context.Background()

	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "sensor.read-failed", Recoverable: true})
	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "pump.dose-failed", Recoverable: true})

	active := m.GetActiveErrors(&deviceID)
	assert.Len(t, active, 2)
}

func TestMonitorRegisterRecoveryAttemptResolvesOnSuccess(t *testing.T) {
	m := newTestMonitor(t)
	deviceID := models.NewComponentID()
	ctx := context.Background()

	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "sensor.read-failed", Recoverable: true})
	m.RegisterRecoveryAttempt(ctx, deviceID, "sensor.read-failed", true)

	active := m.GetActiveErrors(&deviceID)
	assert.Empty(t, active, "a successful recovery attempt must resolve the error")
}

func TestMonitorRegisterRecoveryAttemptKeepsUnresolvedOnFailure(t *testing.T) {
	m := newTestMonitor(t)
	deviceID := models.NewComponentID()
	ctx := context.Background()

	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "sensor.read-failed", Recoverable: true})
	m.RegisterRecoveryAttempt(ctx, deviceID, "sensor.read-failed", false)

	active := m.GetActiveErrors(&deviceID)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].RecoveryAttempts)
}

func TestMonitorGetActiveErrorsFiltersByDevice(t *testing.T) {
	m := newTestMonitor(t)
	deviceA := models.NewComponentID()
	deviceB := models.NewComponentID()
	ctx := context.Background()

	m.Report(ctx, models.Error{DeviceID: deviceA, Code: "a.fault", Recoverable: true})
	m.Report(ctx, models.Error{DeviceID: deviceB, Code: "b.fault", Recoverable: true})

	assert.Len(t, m.GetActiveErrors(&deviceA), 1)
	assert.Len(t, m.GetActiveErrors(nil), 2)
}

func TestMonitorHealthProbeDegradesAtThreeActiveErrors(t *testing.T) {
	m := newTestMonitor(t)
	deviceID := models.NewComponentID()
	ctx := context.Background()

	probe := m.HealthProbe()
	assert.Equal(t, health.StatusHealthy, probe.Check(ctx).Status)

	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "code-1", Recoverable: true})
	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "code-2", Recoverable: true})
	assert.Equal(t, health.StatusHealthy, probe.Check(ctx).Status)

	m.Report(ctx, models.Error{DeviceID: deviceID, Code: "code-3", Recoverable: true})
	assert.Equal(t, health.StatusDegraded, probe.Check(ctx).Status)
}
