package tinykv

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenV2_WithMaintenanceScheduleRunsAndStops(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaintenanceSchedule = "@every 50ms"

	s, err := OpenV2(filepath.Join(dir, "sched.db"), cfg)
	require.NoError(t, err)
	require.NotNil(t, s.sched)

	now := NowMs()
	require.NoError(t, s.PutTTL([]byte("k"), []byte("v"), now-10))

	require.Eventually(t, func() bool {
		_, found, _ := s.Exists([]byte("k"))
		return !found
	}, time.Second, 10*time.Millisecond, "scheduled purge_expired should remove the expired key")

	require.NoError(t, s.Close())
}

func TestOpenV2_InvalidCronExpressionFails(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.MaintenanceSchedule = "not a cron expression"

	_, err := OpenV2(filepath.Join(dir, "badcron.db"), cfg)
	require.Error(t, err)
}

func TestOpenV2_NoScheduleByDefault(t *testing.T) {
	s := openTestStore(t)
	require.Nil(t, s.sched)
}
