package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/engine"
)

func TestMetrics_RecordsInstalls(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.InstallStarted("winget")
	m.InstallStarted("winget")
	m.InstallFinished("winget", true, 2*time.Second)
	m.InstallFinished("winget", false, time.Second)
	m.WorkersActive(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.installsStarted.WithLabelValues("winget")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installsFinished.WithLabelValues("winget", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installsFinished.WithLabelValues("winget", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.workersActive))

	m.RecordRun("apply", 2, 10*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues("apply", "partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lastRunFailed.WithLabelValues("apply")))

	m.RecordPlan(&engine.Plan{Actions: []engine.Action{
		{Type: engine.ActionApp, Status: engine.StatusFail},
		{Type: engine.ActionApp, Status: engine.StatusFail},
		{Type: engine.ActionVerify, Status: engine.StatusPass},
	}})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.planActions.WithLabelValues("app", "fail")))
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	m.InstallStarted("apt")
	m.InstallFinished("apt", true, time.Second)
	m.WorkersActive(1)
	m.RecordRun("plan", 0, time.Second)
	m.RecordPlan(&engine.Plan{})
	m.RecordError(engine.ErrCodeDriverFailed)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile())
}

func TestMetrics_WriteTextfile(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = filepath.Join(t.TempDir(), "collector", "endstate.prom")
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordRun("apply", 0, time.Second)
	require.NoError(t, m.WriteTextfile())

	data, err := os.ReadFile(cfg.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `endstate_runs_completed_total{command="apply",outcome="success"} 1`)
}
