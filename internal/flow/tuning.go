package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Default tuning values.
const (
	DefaultConfidenceThreshold = 0.25
	DefaultShortMessageLimit   = 50
	DefaultAutoExitDelay       = 1 * time.Second
	DefaultFullVoiceAutoSubmit = 3 * time.Second
)

// Tuning holds the externally tunable keyword sets, thresholds and timers.
type Tuning struct {
	ExitKeywords        []string      `yaml:"exit_keywords"`
	NewRequestPhrases   []string      `yaml:"new_request_phrases"`
	SimpleResponses     []string      `yaml:"simple_responses"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	ShortMessageLimit   int           `yaml:"short_message_limit"`
	AutoExitDelay       time.Duration `yaml:"auto_exit_delay"`
	FullVoiceAutoSubmit time.Duration `yaml:"full_voice_auto_submit"`
	AutoRouting         bool          `yaml:"auto_routing"`
}

// DefaultTuning returns the built-in tuning.
func DefaultTuning() Tuning {
	return Tuning{
		ExitKeywords: []string{"exit", "cancel", "restart", "quit", "stop", "done"},
		NewRequestPhrases: []string{
			"mark attendance", "take attendance", "attendance for",
			"voice attendance", "full voice attendance",
			"apply leave", "apply for leave", "leave application",
			"approve leave", "pending leave", "leave requests",
			"create assignment", "submit assignment", "new assignment",
			"course progress", "syllabus progress",
			"show me",
		},
		SimpleResponses: []string{
			"yes", "no", "ok", "okay", "sure", "y", "n", "yeah", "nope", "confirm",
			"sick", "casual", "emergency", "sick leave", "casual leave", "emergency leave",
			"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
			"today", "tomorrow",
		},
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ShortMessageLimit:   DefaultShortMessageLimit,
		AutoExitDelay:       DefaultAutoExitDelay,
		FullVoiceAutoSubmit: DefaultFullVoiceAutoSubmit,
		AutoRouting:         true,
	}
}

// Validate checks that thresholds and timers are in range.
func (t Tuning) Validate() error {
	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0,1], got %v", t.ConfidenceThreshold)
	}
	if t.ShortMessageLimit <= 0 {
		return fmt.Errorf("short_message_limit must be positive, got %d", t.ShortMessageLimit)
	}
	if t.AutoExitDelay < 0 || t.FullVoiceAutoSubmit < 0 {
		return fmt.Errorf("timers must not be negative")
	}
	if len(t.ExitKeywords) == 0 {
		return fmt.Errorf("exit_keywords must not be empty")
	}
	return nil
}

// ParseTuning decodes YAML over the defaults. Keys absent from data keep their default values.
func ParseTuning(data []byte) (Tuning, error) {
	t := DefaultTuning()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("failed to parse tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// LoadTuningFile reads and parses a tuning file.
func LoadTuningFile(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("failed to read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// TuningStore holds the current tuning and swaps it atomically on reload.
type TuningStore struct {
	current atomic.Pointer[Tuning]
}

// NewTuningStore creates a store holding t.
func NewTuningStore(t Tuning) *TuningStore {
	s := &TuningStore{}
	s.Set(t)
	return s
}

// Get returns the current tuning. Callers must not mutate the returned slices.
func (s *TuningStore) Get() Tuning {
	if s == nil {
		return DefaultTuning()
	}
	if t := s.current.Load(); t != nil {
		return *t
	}
	return DefaultTuning()
}

// Set replaces the current tuning.
func (s *TuningStore) Set(t Tuning) {
	s.current.Store(&t)
}

// Reload re-reads path. Invalid content keeps the previous tuning.
func (s *TuningStore) Reload(path string) error {
	t, err := LoadTuningFile(path)
	if err != nil {
		slog.Warn("TuningStore.Reload: keeping previous tuning", "path", path, "error", err)
		return err
	}
	s.Set(t)
	slog.Info("TuningStore.Reload: tuning reloaded", "path", path, "threshold", t.ConfidenceThreshold, "autoRouting", t.AutoRouting)
	return nil
}

// Watch reloads path whenever it is written, created or renamed into place. It blocks until ctx is done.
// The parent directory is watched so that editors replacing the file atomically are observed.
func (s *TuningStore) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create tuning watcher: %w", err)
	}
	defer w.Close()

	clean := filepath.Clean(path)
	if err := w.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("failed to watch tuning directory: %w", err)
	}
	slog.Debug("TuningStore.Watch: watching tuning file", "path", clean)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != clean {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				_ = s.Reload(clean)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("TuningStore.Watch: watcher error", "error", err)
		}
	}
}
