package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/logging"
)

// Binding pairs a provider identifier with its backend instance for one
// capability. The backend's concrete type must match the capability's
// interface contract; Bind enforces this.
type Binding struct {
	ID      string
	Backend any
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	// CallTimeout bounds each outbound provider call. Zero disables the bound.
	CallTimeout time.Duration
	// MaxRetries caps retry attempts for transient failures. Non-transient
	// failures never retry.
	MaxRetries int
	// RetryBackoff is the base delay between retries, doubled per attempt.
	RetryBackoff time.Duration
	// Logger receives structured call/swap records.
	Logger logging.Logger
}

// Registry holds the configured capability bindings and resolves a capability
// to a concrete backend at call time.
//
// Contract:
//   - The binding map is read-mostly: lookups take a read lock, swaps a
//     write lock, so resolution never blocks behind another resolution
//   - Swapping is atomic with respect to in-flight calls: a call completes
//     against the backend it resolved, because resolution returns the
//     instance, not a pointer into the map
//   - Absence of a binding is a terminal error (core.ErrNoBinding), not a
//     retry target
type Registry struct {
	mu       sync.RWMutex
	bindings map[Capability]Binding

	callTimeout  time.Duration
	maxRetries   int
	retryBackoff time.Duration
	logger       logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		CallTimeout:  60 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 250 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		bindings:     make(map[Capability]Binding),
		callTimeout:  opts.CallTimeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger,
	}
}

// Bind installs (or hot-swaps) the backend for a capability. The backend must
// implement the capability's interface; a mismatch is a configuration error.
// In-flight calls against a previously resolved backend are unaffected.
func (r *Registry) Bind(cap Capability, id string, backend any) error {
	if backend == nil {
		return fmt.Errorf("bind %s/%s: nil backend", cap, id)
	}
	if err := checkContract(cap, backend); err != nil {
		return err
	}
	r.mu.Lock()
	prev, existed := r.bindings[cap]
	r.bindings[cap] = Binding{ID: id, Backend: backend}
	r.mu.Unlock()
	if existed {
		r.logger.Info("provider.binding.swapped", "capability", string(cap), "from", prev.ID, "to", id)
	} else {
		r.logger.Info("provider.binding.added", "capability", string(cap), "provider", id)
	}
	return nil
}

// Unbind removes the binding for a capability if present.
func (r *Registry) Unbind(cap Capability) {
	r.mu.Lock()
	delete(r.bindings, cap)
	r.mu.Unlock()
}

// Bound reports whether a capability currently has a backend.
func (r *Registry) Bound(cap Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[cap]
	return ok
}

func checkContract(cap Capability, backend any) error {
	var ok bool
	switch cap {
	case CapabilityChat:
		_, ok = backend.(ChatModel)
	case CapabilitySTT:
		_, ok = backend.(Transcriber)
	case CapabilityTTS:
		_, ok = backend.(Synthesizer)
	case CapabilityCaption:
		_, ok = backend.(Captioner)
	case CapabilityWebSearch:
		_, ok = backend.(WebSearcher)
	case CapabilitySafety:
		_, ok = backend.(SafetyChecker)
	default:
		return fmt.Errorf("unknown capability %q", cap)
	}
	if !ok {
		return fmt.Errorf("backend %T does not satisfy capability %q", backend, cap)
	}
	return nil
}

func (r *Registry) resolve(cap Capability) (Binding, error) {
	r.mu.RLock()
	b, ok := r.bindings[cap]
	r.mu.RUnlock()
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", core.ErrNoBinding, cap)
	}
	return b, nil
}

// Chat resolves the chat backend. Bind guarantees the type assertion holds.
func (r *Registry) Chat() (ChatModel, string, error) {
	b, err := r.resolve(CapabilityChat)
	if err != nil {
		return nil, "", err
	}
	return b.Backend.(ChatModel), b.ID, nil
}

// Transcriber resolves the speech-to-text backend.
func (r *Registry) Transcriber() (Transcriber, string, error) {
	b, err := r.resolve(CapabilitySTT)
	if err != nil {
		return nil, "", err
	}
	return b.Backend.(Transcriber), b.ID, nil
}

// Synthesizer resolves the text-to-speech backend.
func (r *Registry) Synthesizer() (Synthesizer, string, error) {
	b, err := r.resolve(CapabilityTTS)
	if err != nil {
		return nil, "", err
	}
	return b.Backend.(Synthesizer), b.ID, nil
}

// Captioner resolves the image caption backend.
func (r *Registry) Captioner() (Captioner, string, error) {
	b, err := r.resolve(CapabilityCaption)
	if err != nil {
		return nil, "", err
	}
	return b.Backend.(Captioner), b.ID, nil
}

// WebSearcher resolves the web search backend.
func (r *Registry) WebSearcher() (WebSearcher, string, error) {
	b, err := r.resolve(CapabilityWebSearch)
	if err != nil {
		return nil, "", err
	}
	return b.Backend.(WebSearcher), b.ID, nil
}

// SafetyChecker resolves the content safety backend.
func (r *Registry) SafetyChecker() (SafetyChecker, string, error) {
	b, err := r.resolve(CapabilitySafety)
	if err != nil {
		return nil, "", err
	}
	return b.Backend.(SafetyChecker), b.ID, nil
}

// Call runs fn under the registry's per-call timeout, retrying transient
// failures up to MaxRetries with doubling backoff. Non-transient failures
// (auth, malformed request) return immediately.
func (r *Registry) Call(ctx context.Context, cap Capability, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := r.retryBackoff
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("provider.call.retry", "capability", string(cap), "attempt", attempt, "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		callCtx := ctx
		var cancel context.CancelFunc
		if r.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("capability %s failed after %d retries: %w", cap, r.maxRetries, lastErr)
}
