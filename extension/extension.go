// Package extension runs the long-lived components of the service (stores,
// listeners, background janitors) through one ordered start and stop sequence.
package extension

import (
	"context"
	"errors"
)

// Extension is a component with a start and stop phase.
type Extension interface {
	// Name identifies the extension in logs and must be unique within a Manager.
	Name() string

	// Load starts the extension. Long-running work must be started in the
	// background; Load returns once the extension is ready to serve.
	Load(ctx context.Context) error

	// Shutdown stops the extension and releases its resources. It is only
	// called for extensions whose Load succeeded.
	Shutdown(ctx context.Context) error
}

var (
	ErrAlreadyRegistered = errors.New("extension: name is already registered")
	ErrNotFound          = errors.New("extension: not found")
	ErrAlreadyLoaded     = errors.New("extension: manager is already loaded")
)

// Hooks adapts a pair of functions to an Extension. Either function may be nil.
type Hooks struct {
	ID      string
	OnLoad  func(ctx context.Context) error
	OnClose func(ctx context.Context) error
}

func (h *Hooks) Name() string { return h.ID }

func (h *Hooks) Load(ctx context.Context) error {
	if h.OnLoad == nil {
		return nil
	}
	return h.OnLoad(ctx)
}

func (h *Hooks) Shutdown(ctx context.Context) error {
	if h.OnClose == nil {
		return nil
	}
	return h.OnClose(ctx)
}
