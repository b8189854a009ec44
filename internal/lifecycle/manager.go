// Package lifecycle creates, chains, and completes task instances: it
// turns merged templates into live instances, wires family linkage, and
// handles the grouped (oneFamily/collaborate) rejoin variants.
package lifecycle

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/taskhub/internal/config"
	"github.com/felixgeelhaar/taskhub/internal/log"
	"github.com/felixgeelhaar/taskhub/internal/registry"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/store"
)

// Manager owns instance creation and completion.
type Manager struct {
	registry  *registry.Registry
	directory *config.Directory
	store     *store.Collections
	alloc     *router.Allocator
	logger    *log.Logger

	// Injected for tests.
	now   func() time.Time
	newID func() string
}

// NewManager wires a lifecycle manager over its collaborators.
func NewManager(reg *registry.Registry, dir *config.Directory, st *store.Collections, alloc *router.Allocator, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Manager{
		registry:  reg,
		directory: dir,
		store:     st,
		alloc:     alloc,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// WithClock overrides the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithIDSource overrides the manager's instance id source.
func (m *Manager) WithIDSource(newID func() string) *Manager {
	m.newID = newID
	return m
}

// groupKey derives the shared, stable instance id used by the grouping
// policies. Dots are not usable in store keys.
func groupKey(templateID, suffix string) string {
	return strings.ReplaceAll(templateID+suffix, ".", "-")
}

var languageKey = regexp.MustCompile(`_([A-Z]{2})$`)

// collapseLanguageKeys folds key_XX config variants into the bare key
// for the user's language and strips the rest.
func collapseLanguageKeys(cfg map[string]any, language string) {
	if cfg == nil {
		return
	}
	suffix := "_" + strings.ToUpper(language)
	for key, value := range cfg {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		bare := strings.TrimSuffix(key, suffix)
		if _, exists := cfg[bare]; !exists {
			cfg[bare] = value
		}
	}
	for key := range cfg {
		if languageKey.MatchString(key) {
			delete(cfg, key)
		}
	}
}
