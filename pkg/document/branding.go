package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/outreachhq/invoicing/pkg/observability"
)

// Branding is the issuer block printed in the document header and footer
type Branding struct {
	CompanyName  string   `yaml:"company_name"`
	AddressLines []string `yaml:"address_lines"`
	Email        string   `yaml:"email"`
	Website      string   `yaml:"website"`
	TaxID        string   `yaml:"tax_id"`
	// AccentColor is a #RRGGBB hex colour for the header strip and table header
	AccentColor string `yaml:"accent_color"`
	FooterText  string `yaml:"footer_text"`
}

const defaultAccent = "#1F4E79"

// DefaultBranding returns the branding used when no file is configured
func DefaultBranding() Branding {
	return Branding{
		CompanyName: "Outreach Agency",
		AccentColor: defaultAccent,
		FooterText:  "Thank you for your business.",
	}
}

// Validate checks the branding fields
func (b Branding) Validate() error {
	if strings.TrimSpace(b.CompanyName) == "" {
		return fmt.Errorf("company_name is required")
	}
	if b.AccentColor != "" {
		if _, _, _, err := parseHexColor(b.AccentColor); err != nil {
			return fmt.Errorf("invalid accent_color: %w", err)
		}
	}
	return nil
}

func (b Branding) accent() (int, int, int) {
	r, g, bl, err := parseHexColor(b.AccentColor)
	if err != nil {
		r, g, bl, _ = parseHexColor(defaultAccent)
	}
	return r, g, bl
}

func parseHexColor(s string) (int, int, int, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("expected #RRGGBB, got %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("expected #RRGGBB, got %q", s)
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF), nil
}

// LoadBranding reads a YAML branding file. Unset fields keep their defaults.
func LoadBranding(path string) (Branding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Branding{}, fmt.Errorf("failed to read branding file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Branding{}, fmt.Errorf("branding file %s is empty", path)
	}

	b := DefaultBranding()
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Branding{}, fmt.Errorf("failed to parse branding file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Branding{}, err
	}
	return b, nil
}

// BrandingSource supplies the branding for each render
type BrandingSource interface {
	Branding() Branding
}

// StaticBranding is a BrandingSource that never changes
type StaticBranding Branding

func (s StaticBranding) Branding() Branding {
	return Branding(s)
}

// BrandingWatcher serves branding from a YAML file and reloads it when the
// file changes. A file that fails to load leaves the previous branding in place.
type BrandingWatcher struct {
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Branding
}

// NewBrandingWatcher loads path and starts watching its directory.
// Call Run to process change events and Close to release the watcher.
func NewBrandingWatcher(path string, logger *observability.Logger) (*BrandingWatcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	b, err := LoadBranding(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory rather than the file
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch branding directory: %w", err)
	}

	return &BrandingWatcher{
		path:    filepath.Clean(path),
		logger:  logger.WithField("branding_file", path),
		watcher: watcher,
		current: b,
	}, nil
}

// Branding returns the most recently loaded branding
func (w *BrandingWatcher) Branding() Branding {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is done or the watcher is closed.
// onReload, if non-nil, is called after every successful reload.
func (w *BrandingWatcher) Run(ctx context.Context, onReload func(Branding)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			b, err := w.reload()
			if err != nil {
				w.logger.WithError(err).Warn("Branding reload failed, keeping previous branding")
				continue
			}
			w.logger.Info("Branding reloaded")
			if onReload != nil {
				onReload(b)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Branding watcher error")
		}
	}
}

func (w *BrandingWatcher) reload() (Branding, error) {
	b, err := LoadBranding(w.path)
	if err != nil {
		return Branding{}, err
	}
	w.mu.Lock()
	w.current = b
	w.mu.Unlock()
	return b, nil
}

// Close stops watching
func (w *BrandingWatcher) Close() error {
	return w.watcher.Close()
}
