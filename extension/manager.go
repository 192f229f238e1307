package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager loads extensions in registration order and shuts them down in reverse.
type Manager struct {
	mu         sync.Mutex
	extensions map[string]Extension
	order      []string
	loaded     []string // names loaded so far, in load order
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{extensions: make(map[string]Extension)}
}

// Register appends ext to the load order.
func (m *Manager) Register(ext Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ext.Name()
	if _, exists := m.extensions[name]; exists {
		log.Error().Str("extension", name).Msg("attempted to register duplicate extension")
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if len(m.loaded) > 0 {
		return fmt.Errorf("%w: cannot register %s", ErrAlreadyLoaded, name)
	}

	m.extensions[name] = ext
	m.order = append(m.order, name)
	log.Debug().Str("extension", name).Msg("extension registered")
	return nil
}

// Get returns the extension registered under name.
func (m *Manager) Get(name string) (Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.extensions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ext, nil
}

// LoadAll loads every extension in registration order. If one fails, the
// extensions loaded before it are shut down in reverse order and the load
// error is returned.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	if len(m.loaded) > 0 {
		m.mu.Unlock()
		return ErrAlreadyLoaded
	}
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, name := range order {
		m.mu.Lock()
		ext := m.extensions[name]
		m.mu.Unlock()

		start := time.Now()
		if err := ext.Load(ctx); err != nil {
			log.Error().Str("extension", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to load extension")
			if rbErr := m.ShutdownAll(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("errors occurred during load failure rollback")
			}
			return fmt.Errorf("failed to load extension %s: %w", name, err)
		}

		m.mu.Lock()
		m.loaded = append(m.loaded, name)
		m.mu.Unlock()
		log.Info().Str("extension", name).Dur("duration", time.Since(start)).Msg("extension loaded")
	}
	return nil
}

// ShutdownAll shuts down every loaded extension in reverse load order. It
// keeps going past failures and returns them joined.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.loaded
	m.loaded = nil
	m.mu.Unlock()

	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		name := loaded[i]
		start := time.Now()
		m.mu.Lock()
		ext := m.extensions[name]
		m.mu.Unlock()
		if err := ext.Shutdown(ctx); err != nil {
			log.Error().Str("extension", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to shut down extension")
			errs = append(errs, fmt.Errorf("failed to shut down extension %s: %w", name, err))
			continue
		}
		log.Info().Str("extension", name).Dur("duration", time.Since(start)).Msg("extension shut down")
	}

	if len(errs) > 0 {
		log.Warn().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return errors.Join(errs...)
	}
	return nil
}
