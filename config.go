package tinykv

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kvstore/tinykv/internal/storage/pager"
)

// JournalMode selects rollback-journal or WAL durability, per spec.md §6.
type JournalMode = pager.JournalMode

const (
	JournalModeDelete = pager.JournalModeDelete
	JournalModeWAL    = pager.JournalModeWAL
)

// SyncLevel governs fsync discipline around commits and checkpoints.
type SyncLevel = pager.SyncLevel

const (
	SyncOff    = pager.SyncOff
	SyncNormal = pager.SyncNormal
	SyncFull   = pager.SyncFull
)

// CheckpointMode selects how aggressively Checkpoint reclaims WAL frames.
type CheckpointMode = pager.CheckpointMode

const (
	CheckpointPassive  = pager.CheckpointPassive
	CheckpointFull     = pager.CheckpointFull
	CheckpointRestart  = pager.CheckpointRestart
	CheckpointTruncate = pager.CheckpointTruncate
)

// Config is the open_v2 configuration struct named in spec.md §6, plus
// the ambient/domain additions SPEC_FULL.md §4.9/§4.10 layer on top. The
// zero value is not ready to use; start from DefaultConfig.
type Config struct {
	JournalMode        JournalMode `yaml:"journal_mode"`
	SyncLevel          SyncLevel   `yaml:"sync_level"`
	PageSize           int         `yaml:"page_size"`
	CacheSizePages     int         `yaml:"cache_size_pages"`
	ReadOnly           bool        `yaml:"read_only"`
	BusyTimeoutMs      int         `yaml:"busy_timeout_ms"`
	WALSizeLimitFrames int         `yaml:"wal_size_limit_frames"`

	// MaintenanceSchedule is a cron expression (github.com/robfig/cron/v3
	// syntax) driving the background scheduler described in
	// SPEC_FULL.md §4.9. Empty disables it — the default.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`

	// Logger receives structured events from the pager and this
	// package. Nil (the default) keeps logging disabled, matching the
	// teacher's pattern of opt-in instrumentation.
	Logger *zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns sensible defaults for open_v2: WAL journal mode,
// NORMAL sync, an 8 KiB page size, a 1024-page cache, and a 5 second
// busy timeout. No maintenance scheduler.
func DefaultConfig() Config {
	return Config{
		JournalMode:    JournalModeWAL,
		SyncLevel:      SyncNormal,
		PageSize:       pager.DefaultPageSize,
		CacheSizePages: 1024,
		BusyTimeoutMs:  5000,
	}
}

// LoadConfigFile reads a YAML document at path into a Config, starting
// from DefaultConfig so an embedder's file only needs to set the fields
// it cares to override (SPEC_FULL.md §4.10).
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) toPagerConfig(dbPath string) pager.PagerConfig {
	return pager.PagerConfig{
		DBPath:             dbPath,
		PageSize:           cfg.PageSize,
		MaxCachePages:      cfg.CacheSizePages,
		JournalMode:        cfg.JournalMode,
		SyncLevel:          cfg.SyncLevel,
		BusyTimeoutMs:      cfg.BusyTimeoutMs,
		WALSizeLimitFrames: cfg.WALSizeLimitFrames,
		Logger:             cfg.Logger,
	}
}
