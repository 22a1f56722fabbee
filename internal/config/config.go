package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"
)

// Store is the file-backed tunables store: two levels only, section → key →
// string value. It is constructed once per process and handed to every
// component that reads tunables; the watcher (watch.go) is the only other
// writer besides explicit Set/Save calls.
type Store struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	sections map[string]map[string]string
	modTime  time.Time

	subMu sync.Mutex
	subs  []subscriber
}

// Snapshot is an immutable value copy of all sections.
type Snapshot map[string]map[string]string

// Sections and keys written on first run. Values are strings on disk;
// typed accessors parse and fall back.
func defaultSections() map[string]map[string]string {
	return map[string]map[string]string{
		"engine": {
			"depth":        "8",
			"threads":      "1",
			"hash":         "128",
			"skill-level":  "20",
			"move-time-ms": "0",
		},
		"general": {
			"auto-play":     "true",
			"move-key":      "m",
			"arrow":         "true",
			"auto-preset":   "true",
			"poll-interval": "1.0",
		},
		"humanization": {
			"min-delay":          "0.8",
			"max-delay":          "2.5",
			"moving-min-delay":   "0.3",
			"moving-max-delay":   "1.2",
			"thinking-min-delay": "1.0",
			"thinking-max-delay": "3.5",
		},
		"browser": {
			"ack-poll":               "0.4",
			"max-consecutive-errors": "5",
		},
	}
}

// Historical spellings kept readable for hand-edited files. Accessors try
// the canonical key first, then each alias in order.
var keyAliases = map[string][]string{
	"general/auto-play":   {"AutoPlay", "autoplay"},
	"general/move-key":    {"MoveKey"},
	"general/arrow":       {"Arrow", "show-arrow"},
	"general/auto-preset": {"AutoPreset"},
}

// New loads the store from path, writing the defaults first when the file
// does not exist yet.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, logger: logger, sections: defaultSections()}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.Save(); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		logger.Info("config_created", zap.String("path", path))
		return s, nil
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-reads the file, normalizes scalars to strings and fills missing
// keys from the defaults.
func (s *Store) Load() error {
	data, modTime, err := readSections(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Remember the mtime even on parse failure so the watcher does not
	// re-report the same broken file every poll.
	if !modTime.IsZero() {
		s.modTime = modTime
	}
	if err != nil {
		return err
	}
	fillDefaults(data)
	s.sections = data
	return nil
}

// Save writes all sections atomically (temp file + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	out, err := yaml.Marshal(s.sections)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of every section.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySections(s.sections)
}

// Get returns the raw value for section/key, trying registered aliases.
func (s *Store) Get(section, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[section]
	if !ok {
		return "", false
	}
	if v, ok := sec[key]; ok {
		return v, true
	}
	for _, alias := range keyAliases[section+"/"+key] {
		if v, ok := sec[alias]; ok {
			return v, true
		}
	}
	return "", false
}

// GetWithAliases tries each candidate key in order and falls back to def.
func (s *Store) GetWithAliases(section string, keys []string, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[section]
	if !ok {
		return def
	}
	for _, k := range keys {
		if v, ok := sec[k]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return def
}

// GetDefault returns the value or def when absent or blank.
func (s *Store) GetDefault(section, key, def string) string {
	v, ok := s.Get(section, key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Int parses the value as an integer; malformed values fall back with a
// warning, never an error.
func (s *Store) Int(section, key string, def int) int {
	v, ok := s.Get(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		s.logger.Warn("config_bad_int",
			zap.String("section", section), zap.String("key", key),
			zap.String("value", v), zap.Int("fallback", def))
		return def
	}
	return n
}

// Bool parses common truthy/falsy spellings.
func (s *Store) Bool(section, key string, def bool) bool {
	v, ok := s.Get(section, key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	s.logger.Warn("config_bad_bool",
		zap.String("section", section), zap.String("key", key),
		zap.String("value", v), zap.Bool("fallback", def))
	return def
}

// Seconds parses a float number of seconds into a Duration.
func (s *Store) Seconds(section, key string, def time.Duration) time.Duration {
	v, ok := s.Get(section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		s.logger.Warn("config_bad_seconds",
			zap.String("section", section), zap.String("key", key),
			zap.String("value", v), zap.Duration("fallback", def))
		return def
	}
	return time.Duration(f * float64(time.Second))
}

// DelayRange returns the humanization [min,max] seconds for a phase.
// Phase "" reads min-delay/max-delay; other phases use the phase prefix.
func (s *Store) DelayRange(phase string) (min, max float64) {
	minKey, maxKey := "min-delay", "max-delay"
	if phase != "" {
		minKey = phase + "-min-delay"
		maxKey = phase + "-max-delay"
	}
	defMin, defMax := defaultDelay(minKey), defaultDelay(maxKey)
	min = s.float("humanization", minKey, defMin)
	max = s.float("humanization", maxKey, defMax)
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return min, max
}

// Set updates a single value in memory. Call Save to persist; the watcher
// rebroadcasts persisted changes like any external edit.
func (s *Store) Set(section, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[section]
	if !ok {
		sec = make(map[string]string)
		s.sections[section] = sec
	}
	sec[key] = value
}

func (s *Store) float(section, key string, def float64) float64 {
	v, ok := s.Get(section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		s.logger.Warn("config_bad_float",
			zap.String("section", section), zap.String("key", key),
			zap.String("value", v), zap.Float64("fallback", def))
		return def
	}
	return f
}

func defaultDelay(key string) float64 {
	if v, ok := defaultSections()["humanization"][key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0.5
}

// readSections parses the file into section → key → string. Unquoted
// scalars (ints, bools, floats) are tolerated and normalized to strings;
// anything nested deeper than two levels is rejected.
func readSections(path string) (map[string]map[string]string, time.Time, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat config: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, st.ModTime(), fmt.Errorf("read config: %w", err)
	}

	var doc map[string]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, st.ModTime(), fmt.Errorf("parse config: %w", err)
	}

	data := make(map[string]map[string]string, len(doc))
	for section, kv := range doc {
		sec := make(map[string]string, len(kv))
		for key, val := range kv {
			sv, err := scalarString(val)
			if err != nil {
				return nil, st.ModTime(), fmt.Errorf("config %s.%s: %w", section, key, err)
			}
			sec[key] = sv
		}
		data[section] = sec
	}
	return data, st.ModTime(), nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func fillDefaults(data map[string]map[string]string) {
	for section, kv := range defaultSections() {
		sec, ok := data[section]
		if !ok {
			data[section] = kv
			continue
		}
		for k, v := range kv {
			if _, ok := sec[k]; !ok {
				sec[k] = v
			}
		}
	}
}

func copySections(src map[string]map[string]string) Snapshot {
	out := make(Snapshot, len(src))
	for section, kv := range src {
		sec := make(map[string]string, len(kv))
		for k, v := range kv {
			sec[k] = v
		}
		out[section] = sec
	}
	return out
}

// SectionNames returns the sorted section list, mostly for logs and tests.
func (s *Store) SectionNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
