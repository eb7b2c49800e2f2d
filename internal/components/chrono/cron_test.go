package chrono

import (
	"errors"
	"testing"
	"time"

	"cmgdl/internal/components/telemetry/telemetrytest"

	"github.com/stretchr/testify/require"
)

func TestStandardImplLocation(t *testing.T) {
	clock, err := NewStandardImpl()
	require.NoError(t, err)
	require.Equal(t, "Asia/Shanghai", clock.Location().String())
	require.Equal(t, clock.Location(), clock.Now().Location())
}

func TestStandardCronRejectsBadSpec(t *testing.T) {
	clock, err := NewStandardImpl()
	require.NoError(t, err)

	cron := NewStandardCron(clock, &telemetrytest.Recorder{})
	defer cron.Stop()

	require.Error(t, cron.Cron("not a spec", func() {}))
}

func TestStandardCronRunsJobs(t *testing.T) {
	clock, err := NewStandardImpl()
	require.NoError(t, err)

	cron := NewStandardCron(clock, &telemetrytest.Recorder{})
	defer cron.Stop()

	ran := make(chan struct{}, 1)
	err = cron.Cron("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("cron job did not run")
	}
}

func TestCronLoggerReportsErrors(t *testing.T) {
	rec := &telemetrytest.Recorder{}
	logger := cronLogger{tel: rec}

	logger.Info("start", "now", "today")
	logger.Error(errors.New("boom"), "run", "entry", 1)

	require.True(t, rec.Has("debug", "cron: start"))
	require.True(t, rec.Has("broken", "cron"))
	require.Equal(t, []any{"now: today"}, rec.Reports("debug")[0].Params)
}
