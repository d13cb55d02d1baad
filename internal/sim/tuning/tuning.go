// Package tuning holds the runtime settings of the enforcement host.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	OrphanIgnore = "ignore"
	OrphanPurge  = "purge"

	PickupDestroyAndCancel = "destroy_and_cancel"
	PickupCancelOnly       = "cancel_only"

	EnvPrefix = "SLOTKEEPER"
)

const (
	keyTickRateHz       = "tick_rate_hz"
	keyCheckInterval    = "check_interval_seconds"
	keyCooldownSweep    = "cooldown_sweep_seconds"
	keyDebug            = "debug"
	keyPoliciesPath     = "policies_path"
	keyMessagesPath     = "messages_path"
	keyDataDir          = "data_dir"
	keyListen           = "listen"
	keyAuditLog         = "audit_log"
	keyIndexDB          = "index_db"
	keyWatchConfig      = "watch_config"
	keyOrphanMode       = "orphan_mode"
	keyPickupMode       = "pickup_mode"
	keyAdminPermission  = "admin_permission"
	keyBridgeToken      = "bridge_token"
	keyMaxActorsPerConn = "max_actors_per_conn"

	keyArchiveEndpoint  = "archive.endpoint"
	keyArchiveBucket    = "archive.bucket"
	keyArchiveAccessKey = "archive.access_key_id"
	keyArchiveSecretKey = "archive.secret_access_key"
	keyArchivePrefix    = "archive.prefix"
	keyArchiveWorkers   = "archive.workers"
)

type Settings struct {
	TickRateHz           int    `mapstructure:"tick_rate_hz"`
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
	CooldownSweepSeconds int    `mapstructure:"cooldown_sweep_seconds"`
	Debug                bool   `mapstructure:"debug"`
	PoliciesPath         string `mapstructure:"policies_path"`
	MessagesPath         string `mapstructure:"messages_path"`
	DataDir              string `mapstructure:"data_dir"`
	Listen               string `mapstructure:"listen"`
	AuditLog             bool   `mapstructure:"audit_log"`
	IndexDB              string `mapstructure:"index_db"`
	WatchConfig          bool   `mapstructure:"watch_config"`
	OrphanMode           string `mapstructure:"orphan_mode"`
	PickupMode           string `mapstructure:"pickup_mode"`
	AdminPermission      string `mapstructure:"admin_permission"`
	BridgeToken          string `mapstructure:"bridge_token"`
	MaxActorsPerConn     int    `mapstructure:"max_actors_per_conn"`

	Archive ArchiveSettings `mapstructure:"archive"`
}

// ArchiveSettings configure mirroring of closed audit log files to S3-compatible storage.
type ArchiveSettings struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
	Workers         int    `mapstructure:"workers"`
}

func (a ArchiveSettings) Enabled() bool { return a.Endpoint != "" || a.Bucket != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyTickRateHz, 20)
	v.SetDefault(keyCheckInterval, 5)
	v.SetDefault(keyCooldownSweep, 60)
	v.SetDefault(keyDebug, false)
	v.SetDefault(keyPoliciesPath, "configs/policies.yaml")
	v.SetDefault(keyMessagesPath, "configs/messages.yaml")
	v.SetDefault(keyDataDir, "data")
	v.SetDefault(keyListen, ":8090")
	v.SetDefault(keyAuditLog, true)
	v.SetDefault(keyIndexDB, "")
	v.SetDefault(keyWatchConfig, true)
	v.SetDefault(keyOrphanMode, OrphanIgnore)
	v.SetDefault(keyPickupMode, PickupDestroyAndCancel)
	v.SetDefault(keyAdminPermission, "slotkeeper.admin")
	v.SetDefault(keyBridgeToken, "")
	v.SetDefault(keyMaxActorsPerConn, 500)
	v.SetDefault(keyArchiveEndpoint, "")
	v.SetDefault(keyArchiveBucket, "")
	v.SetDefault(keyArchiveAccessKey, "")
	v.SetDefault(keyArchiveSecretKey, "")
	v.SetDefault(keyArchivePrefix, "slotkeeper")
	v.SetDefault(keyArchiveWorkers, 1)
}

// Defaults returns the settings used when no file or environment override is present.
func Defaults() Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	_ = v.Unmarshal(&s)
	return s
}

// Load reads settings from path (a YAML file) layered over defaults and SLOTKEEPER_* env vars.
// An empty path or a missing file is not an error.
func Load(path string) (Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) && !errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("read settings: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) Normalize() {
	s.OrphanMode = strings.ToLower(strings.TrimSpace(s.OrphanMode))
	s.PickupMode = strings.ToLower(strings.TrimSpace(s.PickupMode))
	if s.OrphanMode == "" {
		s.OrphanMode = OrphanIgnore
	}
	if s.PickupMode == "" {
		s.PickupMode = PickupDestroyAndCancel
	}
	if s.TickRateHz <= 0 {
		s.TickRateHz = 20
	}
	if s.CheckIntervalSeconds < 0 {
		s.CheckIntervalSeconds = 0
	}
	if s.CooldownSweepSeconds < 0 {
		s.CooldownSweepSeconds = 0
	}
	s.AdminPermission = strings.TrimSpace(s.AdminPermission)
	s.Archive.Endpoint = strings.TrimSpace(s.Archive.Endpoint)
	s.Archive.Bucket = strings.TrimSpace(s.Archive.Bucket)
	if s.Archive.Workers <= 0 {
		s.Archive.Workers = 1
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz %d out of range (1..1000)", s.TickRateHz))
	}
	switch s.OrphanMode {
	case OrphanIgnore, OrphanPurge:
	default:
		errs = append(errs, fmt.Errorf("orphan_mode %q: want %s or %s", s.OrphanMode, OrphanIgnore, OrphanPurge))
	}
	switch s.PickupMode {
	case PickupDestroyAndCancel, PickupCancelOnly:
	default:
		errs = append(errs, fmt.Errorf("pickup_mode %q: want %s or %s", s.PickupMode, PickupDestroyAndCancel, PickupCancelOnly))
	}
	if s.AdminPermission == "" {
		errs = append(errs, errors.New("admin_permission must not be empty"))
	}
	if s.MaxActorsPerConn < 0 {
		errs = append(errs, fmt.Errorf("max_actors_per_conn %d must be >= 0", s.MaxActorsPerConn))
	}
	if a := s.Archive; a.Enabled() {
		if a.Endpoint == "" || a.Bucket == "" || a.AccessKeyID == "" || a.SecretAccessKey == "" {
			errs = append(errs, errors.New("archive needs endpoint, bucket, access_key_id and secret_access_key"))
		}
		if !s.AuditLog {
			errs = append(errs, errors.New("archive requires audit_log"))
		}
	}
	return errors.Join(errs...)
}

// SecondsToTicks converts a whole-second interval into scheduler ticks. 0 stays 0.
func (s Settings) SecondsToTicks(sec int) uint64 {
	if sec <= 0 {
		return 0
	}
	return uint64(sec) * uint64(s.TickRateHz)
}

// PurgeOrphans reports whether sweeps strip items whose policy no longer exists.
func (s Settings) PurgeOrphans() bool { return s.OrphanMode == OrphanPurge }

// DestroyOnPickup reports whether a vetoed ground pickup also removes the loose item.
func (s Settings) DestroyOnPickup() bool { return s.PickupMode == PickupDestroyAndCancel }
