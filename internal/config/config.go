// Package config implements the persisted settings store (spec.md §6
// "Persisted state", component ambient to C1–C10): an INI-style file
// with `[drcpd]` and `[i18n]` sections, read-mostly and guarded by
// scoped batch writes that emit a single change notification on scope
// exit (spec.md §5 "Shared resources"). Grounded on
// `_examples/original_source/src/configuration.cc`/
// `configuration_drcpd.cc`/`configuration_i18n.cc`'s per-section
// ConfigManager/UpdateSettings pattern, generalized from C++ template
// specialization per section into one Go struct with a key table.
package config

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"
)

// InsertResult is the typed outcome of a single key write (spec.md §7
// "Configuration insert").
type InsertResult int

const (
	Updated InsertResult = iota
	Unchanged
	KeyUnknown
	ValueTypeInvalid
	ValueInvalid
	PermissionDenied
)

func (r InsertResult) String() string {
	switch r {
	case Updated:
		return "UPDATED"
	case Unchanged:
		return "UNCHANGED"
	case KeyUnknown:
		return "KEY_UNKNOWN"
	case ValueTypeInvalid:
		return "VALUE_TYPE_INVALID"
	case ValueInvalid:
		return "VALUE_INVALID"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	default:
		return "UNKNOWN"
	}
}

// unlimitedLiteral is the special maximum_stream_bit_rate value meaning
// "no cap" (spec.md §6), serialized as 0 internally.
const unlimitedLiteral = "unlimited"

// Settings is the full set of recognised keys (spec.md §6), spanning
// both INI sections. MaximumStreamBitRate of 0 means unlimited.
type Settings struct {
	MaximumStreamBitRate uint32
	LanguageCode         string
	CountryCode          string
}

func defaultSettings() Settings {
	return Settings{MaximumStreamBitRate: 0, LanguageCode: "en", CountryCode: "US"}
}

// ChangeFunc is called once per scope that actually changed something,
// with the settings as they stood right after the scope committed.
type ChangeFunc func(Settings)

// Store is the persisted, read-mostly settings store. Reads
// (Snapshot) take a read lock; writes only happen through a Scope,
// batching multiple key updates into one file write and one
// notification, mirroring the original's UpdateSettings RAII scope
// (destructor commits and notifies).
type Store struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	settings Settings
	onChange ChangeFunc
}

// Load reads path if it exists, applying defaults for anything
// missing or malformed; an absent file is not an error (first run).
func Load(path string, log zerolog.Logger, onChange ChangeFunc) (*Store, error) {
	s := &Store{path: path, log: log, settings: defaultSettings(), onChange: onChange}

	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}

	drcpd := cfg.Section("drcpd")
	if key := drcpd.Key("maximum_stream_bit_rate"); key.String() != "" {
		if v, err := parseBitrate(key.String()); err == nil {
			s.settings.MaximumStreamBitRate = v
		} else {
			log.Warn().Err(err).Msg("config: ignoring invalid maximum_stream_bit_rate on load")
		}
	}

	i18n := cfg.Section("i18n")
	if v := i18n.Key("language_code").String(); isValidAlpha2(v) {
		s.settings.LanguageCode = v
	}
	if v := i18n.Key("country_code").String(); isValidAlpha2(v) {
		s.settings.CountryCode = v
	}

	return s, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// BeginScope opens a batch-write scope (spec.md §5 "update-scope
// objects that batch writes and emit a change-notification on scope
// exit"). Callers must Close the scope exactly once.
func (s *Store) BeginScope() *Scope {
	s.mu.Lock()
	return &Scope{store: s, pending: s.settings}
}

// Scope batches one or more key updates; Close commits them to the
// Store and persists to disk as a single write, firing onChange once
// if anything actually changed.
type Scope struct {
	store   *Store
	pending Settings
	changed bool
	closed  bool
}

// SetMaximumStreamBitRate sets the key from its wire representation:
// either a decimal string or the literal "unlimited".
func (sc *Scope) SetMaximumStreamBitRate(value string) InsertResult {
	v, err := parseBitrate(value)
	if err != nil {
		return ValueInvalid
	}
	if sc.pending.MaximumStreamBitRate == v {
		return Unchanged
	}
	sc.pending.MaximumStreamBitRate = v
	sc.changed = true
	return Updated
}

func parseBitrate(value string) (uint32, error) {
	if value == unlimitedLiteral {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("config: invalid maximum_stream_bit_rate %q", value)
	}
	return uint32(n), nil
}

func isValidAlpha2(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// SetLanguageCode sets the key, validating a two-letter alpha code
// (spec.md §6).
func (sc *Scope) SetLanguageCode(value string) InsertResult {
	if !isValidAlpha2(value) {
		return ValueInvalid
	}
	if sc.pending.LanguageCode == value {
		return Unchanged
	}
	sc.pending.LanguageCode = value
	sc.changed = true
	return Updated
}

// SetCountryCode sets the key, validating a two-letter alpha code
// (spec.md §6).
func (sc *Scope) SetCountryCode(value string) InsertResult {
	if !isValidAlpha2(value) {
		return ValueInvalid
	}
	if sc.pending.CountryCode == value {
		return Unchanged
	}
	sc.pending.CountryCode = value
	sc.changed = true
	return Updated
}

// SetValue dispatches a (key, value) pair by name, the shape the
// config D-Bus interface's SetValue/SetMultipleValues methods receive
// (spec.md §6). Unknown keys are ignored (spec.md §6 "Unknown keys are
// ignored" on read; on write, the original reports KEY_UNKNOWN so the
// caller can tell the value was rejected rather than silently kept).
func (sc *Scope) SetValue(key, value string) InsertResult {
	switch key {
	case "maximum_stream_bit_rate":
		return sc.SetMaximumStreamBitRate(value)
	case "language_code":
		return sc.SetLanguageCode(value)
	case "country_code":
		return sc.SetCountryCode(value)
	default:
		return KeyUnknown
	}
}

// Close commits the scope's pending changes, persisting to disk and
// firing the store's ChangeFunc exactly once if anything changed.
func (sc *Scope) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	defer sc.store.mu.Unlock()

	if !sc.changed {
		return nil
	}
	sc.store.settings = sc.pending

	if err := sc.store.persistLocked(); err != nil {
		return err
	}
	if sc.store.onChange != nil {
		sc.store.onChange(sc.store.settings)
	}
	return nil
}

func (s *Store) persistLocked() error {
	cfg := ini.Empty()

	drcpd, err := cfg.NewSection("drcpd")
	if err != nil {
		return fmt.Errorf("config: create [drcpd] section: %w", err)
	}
	if s.settings.MaximumStreamBitRate == 0 {
		drcpd.Key("maximum_stream_bit_rate").SetValue(unlimitedLiteral)
	} else {
		drcpd.Key("maximum_stream_bit_rate").SetValue(strconv.FormatUint(uint64(s.settings.MaximumStreamBitRate), 10))
	}

	i18n, err := cfg.NewSection("i18n")
	if err != nil {
		return fmt.Errorf("config: create [i18n] section: %w", err)
	}
	i18n.Key("language_code").SetValue(s.settings.LanguageCode)
	i18n.Key("country_code").SetValue(s.settings.CountryCode)

	if err := cfg.SaveTo(s.path); err != nil {
		return fmt.Errorf("config: save %q: %w", s.path, err)
	}
	return nil
}
