package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"

	TextSizeNormal     = "normal"
	TextSizeLarge      = "large"
	TextSizeExtraLarge = "extra-large"

	ModeNormal       = "normal"
	ModeHighContrast = "high-contrast"
)

var (
	themes    = []string{ThemeLight, ThemeDark}
	textSizes = []string{TextSizeNormal, TextSizeLarge, TextSizeExtraLarge}
	modes     = []string{ModeNormal, ModeHighContrast}
)

// Settings is the accessibility and presentation state the UI persists between sessions.
type Settings struct {
	Theme             string `json:"theme"`
	TextSize          string `json:"text_size"`
	AccessibilityMode string `json:"accessibility_mode"`
	Language          string `json:"language"`
}

// Defaults mirrors a first visit: light theme, large text, English.
func Defaults() Settings {
	return Settings{
		Theme:             ThemeLight,
		TextSize:          TextSizeLarge,
		AccessibilityMode: ModeNormal,
		Language:          "en",
	}
}

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("invalid settings")

func (s Settings) Validate() error {
	if !slices.Contains(themes, s.Theme) {
		return fmt.Errorf("%w: theme must be one of %s", ErrInvalid, strings.Join(themes, ", "))
	}
	if !slices.Contains(textSizes, s.TextSize) {
		return fmt.Errorf("%w: text_size must be one of %s", ErrInvalid, strings.Join(textSizes, ", "))
	}
	if !slices.Contains(modes, s.AccessibilityMode) {
		return fmt.Errorf("%w: accessibility_mode must be one of %s", ErrInvalid, strings.Join(modes, ", "))
	}
	if strings.TrimSpace(s.Language) == "" {
		return fmt.Errorf("%w: language is required", ErrInvalid)
	}
	if _, err := language.Parse(s.Language); err != nil {
		return fmt.Errorf("%w: language %q: %v", ErrInvalid, s.Language, err)
	}
	return nil
}

// merge fills empty fields of s from base.
func (s Settings) merge(base Settings) Settings {
	if strings.TrimSpace(s.Theme) == "" {
		s.Theme = base.Theme
	}
	if strings.TrimSpace(s.TextSize) == "" {
		s.TextSize = base.TextSize
	}
	if strings.TrimSpace(s.AccessibilityMode) == "" {
		s.AccessibilityMode = base.AccessibilityMode
	}
	if strings.TrimSpace(s.Language) == "" {
		s.Language = base.Language
	}
	return s
}

// NextTextSize cycles normal -> large -> extra-large -> normal.
func NextTextSize(current string) string {
	idx := slices.Index(textSizes, current)
	if idx < 0 {
		return TextSizeLarge
	}
	return textSizes[(idx+1)%len(textSizes)]
}

func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return s, nil
}

func WriteFile(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// Open loads the settings file at path. A missing file yields defaults;
// a file with missing fields is completed from defaults.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}

	current := Defaults()
	loaded, err := LoadFile(path)
	switch {
	case err == nil:
		current = loaded.merge(Defaults())
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := current.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}

	return &Store{
		path:    path,
		current: current,
	}, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates next, writes it to disk, then makes it current.
// Empty fields keep their current value.
func (s *Store) Update(next Settings) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next = next.merge(s.current)
	if err := WriteFile(s.path, next); err != nil {
		return Settings{}, err
	}
	s.current = next
	return next, nil
}
