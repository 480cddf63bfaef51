// Package workspace creates the per-run working-directory layout.
//
// Each run gets {root}/{slug}_{timestamp}/{data,results,figures}. Creation
// is idempotent and collision-safe: a second run started within the same
// second gets a short random suffix instead of silently sharing (or
// clobbering) the first run's directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxSlugLength caps the sanitized request slug.
const maxSlugLength = 30

// subdirs is the fixed working-directory subtree.
var subdirs = []string{"data", "results", "figures"}

// Manager creates working directories under a fixed root.
type Manager struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a workspace manager rooted at root.
func NewManager(root string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		root:   root,
		logger: logger,
		now:    time.Now,
	}
}

// Slugify sanitizes a request into a lowercase alphanumeric-and-underscore
// slug capped at maxSlugLength characters.
func Slugify(request string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(request)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		slug = "analysis"
	}
	return slug
}

// Create builds the working directory for a request and returns its path.
// A failure to create the root directory is fatal; failures on individual
// subdirectories are logged and swallowed, degrading later steps instead of
// aborting the run.
func (m *Manager) Create(request string) (string, error) {
	slug := Slugify(request)
	stamp := m.now().Format("20060102_150405")
	dir := filepath.Join(m.root, fmt.Sprintf("%s_%s", slug, stamp))

	// Same slug within the same second: disambiguate instead of reusing
	// the other run's directory.
	if _, err := os.Stat(dir); err == nil {
		suffix := strings.Split(uuid.NewString(), "-")[0]
		dir = fmt.Sprintf("%s_%s", dir, suffix)
	}

	return m.CreateAt(dir)
}

// CreateAt materializes the workspace subtree at an explicit path.
// Idempotent: an existing directory is a no-op, not an error.
func (m *Manager) CreateAt(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}

	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			m.logger.Warn("failed to create workspace subdirectory",
				zap.String("dir", dir), zap.String("subdir", sub), zap.Error(err))
		}
	}

	m.logger.Info("workspace ready", zap.String("dir", dir))
	return dir, nil
}

// Subdirs returns the fixed subdirectory names.
func Subdirs() []string {
	out := make([]string, len(subdirs))
	copy(out, subdirs)
	return out
}
