package dispatch

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/veslabs/maestro/pkg/config"
	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
)

const component = "dispatch"

// autoSelection is the preferredModule metadata value when no usable
// preference was supplied.
const autoSelection = "auto"

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher orchestrates module selection, invocation, and fallback for one
// command at a time. It holds no per-command state; conversation state lives
// inside the modules that need it.
type Dispatcher struct {
	registry *Registry
	opts     config.DispatchConfig
}

// New creates a dispatcher over a registry. Zero thresholds in opts are
// replaced with the built-in defaults.
func New(registry *Registry, opts config.DispatchConfig) *Dispatcher {
	def := config.Default().Dispatch
	if opts.MinAutoConfidence == 0 {
		opts.MinAutoConfidence = def.MinAutoConfidence
	}
	if opts.MinPreferredConfidence == 0 {
		opts.MinPreferredConfidence = def.MinPreferredConfidence
	}
	if opts.FallbackModuleID == "" {
		opts.FallbackModuleID = def.FallbackModuleID
	}
	if len(opts.CannotHandleCodes) == 0 {
		opts.CannotHandleCodes = def.CannotHandleCodes
	}
	if len(opts.CannotHandleMarkers) == 0 {
		opts.CannotHandleMarkers = def.CannotHandleMarkers
	}
	return &Dispatcher{registry: registry, opts: opts}
}

// Registry exposes the underlying module registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// RegisterModule adds or replaces a module.
func (d *Dispatcher) RegisterModule(m module.Module) { d.registry.Register(m) }

// UnregisterModule removes a module by ID.
func (d *Dispatcher) UnregisterModule(id string) { d.registry.Unregister(id) }

// ListModules returns descriptors for all registered modules in priority
// order.
func (d *Dispatcher) ListModules() []module.Descriptor { return d.registry.Descriptors() }

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// scored pairs a module with its computed confidence.
type scored struct {
	mod   module.Module
	score float64
}

// rank scores all modules concurrently (fan-out/fan-in, one unit per module)
// and returns the best among those scoring above zero. A unit's failure is
// isolated inside scoreModule and never cancels siblings.
func (d *Dispatcher) rank(ctx context.Context, mods []module.Module, input string, user *module.UserContext) (scored, bool) {
	scores := make([]float64, len(mods))
	g := new(errgroup.Group)
	for i, m := range mods {
		g.Go(func() error {
			scores[i] = scoreModule(ctx, m, input, user)
			return nil
		})
	}
	_ = g.Wait() // units never return errors

	// mods is priority-sorted, so the first strict maximum wins ties by
	// higher priority.
	best := scored{}
	found := false
	for i, m := range mods {
		if scores[i] > 0 && scores[i] > best.score {
			best = scored{mod: m, score: scores[i]}
			found = true
		}
	}
	return best, found
}

// FindBestModule is a read-only probe: what would auto-selection pick for
// this input? Performs no invocation.
func (d *Dispatcher) FindBestModule(ctx context.Context, input string, user *module.UserContext) (module.Descriptor, float64, bool) {
	best, ok := d.rank(ctx, d.registry.List(), input, user)
	if !ok {
		return module.Descriptor{}, 0, false
	}
	return module.Describe(best.mod), best.score, true
}

// ---------------------------------------------------------------------------
// ProcessCommand
// ---------------------------------------------------------------------------

// ProcessCommand routes one command: preference check, auto-selection,
// invocation, and at most one fallback attempt. The returned error is
// non-nil only for a fatal dispatch failure (selected module and fallback
// both failed); every other outcome is expressed in the Response.
func (d *Dispatcher) ProcessCommand(ctx context.Context, input string, user *module.UserContext, preferredID string) (*module.Response, error) {
	snapshot := d.registry.List()
	preferredMeta := autoSelection
	if preferredID != "" {
		preferredMeta = preferredID
	}

	// Step 1: explicit preference, held to a minimal viability bar.
	var selected scored
	haveSelection := false
	if preferredID != "" {
		if m, ok := d.registry.FindByID(preferredID); ok {
			score := scoreModule(ctx, m, input, user)
			if score >= d.opts.MinPreferredConfidence {
				selected = scored{mod: m, score: score}
				haveSelection = true
			} else {
				logger.InfoCF(component, "Preferred module below viability bar, using auto-selection", map[string]interface{}{
					"preferred": preferredID,
					"score":     score,
				})
			}
		} else {
			logger.WarnCF(component, "Preferred module not registered, using auto-selection", map[string]interface{}{
				"preferred": preferredID,
			})
		}
	}

	// Step 2: concurrent auto-selection.
	if !haveSelection {
		selected, haveSelection = d.rank(ctx, snapshot, input, user)

		// Step 3: nothing confident enough, go straight to the fallback
		// module. An explicitly preferred module that cleared its own bar
		// skips this threshold.
		if !haveSelection || selected.score < d.opts.MinAutoConfidence {
			return d.fallbackDirect(ctx, input, user, selected.score, preferredMeta)
		}
	}

	logger.DebugCF(component, "Module selected", map[string]interface{}{
		"module":     selected.mod.ID(),
		"confidence": selected.score,
		"preferred":  preferredMeta,
	})

	// Step 4: invoke.
	resp, err := safeHandle(ctx, selected.mod, input, user)
	if err != nil {
		return d.fallbackOnError(ctx, input, user, selected, preferredMeta, err)
	}

	if !resp.Success && d.couldNotHandle(resp) {
		if fbResp, ok := d.fallbackOnSelfReport(ctx, input, user, selected, preferredMeta); ok {
			return fbResp, nil
		}
		// Fallback unavailable (or it is the failing module): hand back the
		// module's own answer unchanged apart from selection metadata.
	}

	d.annotate(resp, selected.mod, selected.score, false, preferredMeta)
	return resp, nil
}

// fallbackDirect handles the empty-selection / low-confidence path.
func (d *Dispatcher) fallbackDirect(ctx context.Context, input string, user *module.UserContext, originalScore float64, preferredMeta string) (*module.Response, error) {
	fb, ok := d.registry.FindByID(d.opts.FallbackModuleID)
	if !ok {
		logger.WarnCF(component, "No module matched and no fallback registered", map[string]interface{}{
			"score": originalScore,
		})
		resp := module.Fail(
			"I couldn't find a capability that understands that. Try rephrasing your request.",
			module.ErrCodeNoMatchingModule,
		)
		resp.SetMeta(module.MetaModuleID, "")
		resp.SetMeta(module.MetaModuleName, "")
		resp.SetMeta(module.MetaConfidence, originalScore)
		resp.SetMeta(module.MetaIsFallback, false)
		resp.SetMeta(module.MetaPreferredModule, preferredMeta)
		return resp, nil
	}

	resp, err := safeHandle(ctx, fb, input, user)
	if err != nil {
		logger.ErrorCF(component, "Fallback module failed on low-confidence path", map[string]interface{}{
			"fallback": fb.ID(),
			"error":    err.Error(),
		})
		fatal := module.Fail("Something went wrong while processing your request. Please try again.", module.ErrCodeProcessingError)
		d.annotate(fatal, fb, originalScore, true, preferredMeta)
		return fatal, fmt.Errorf("fallback module %s: %w", fb.ID(), err)
	}

	d.annotate(resp, fb, originalScore, true, preferredMeta)
	resp.SetMeta(module.MetaOriginalConfidence, originalScore)
	return resp, nil
}

// fallbackOnError handles a module that raised an unexpected error: exactly
// one fallback invocation, never a chain.
func (d *Dispatcher) fallbackOnError(ctx context.Context, input string, user *module.UserContext, failed scored, preferredMeta string, cause error) (*module.Response, error) {
	logger.ErrorCF(component, "Module handler failed", map[string]interface{}{
		"module": failed.mod.ID(),
		"error":  cause.Error(),
	})

	fb, ok := d.registry.FindByID(d.opts.FallbackModuleID)
	if !ok || strings.EqualFold(fb.ID(), failed.mod.ID()) {
		fatal := module.Fail("Something went wrong while processing your request. Please try again.", module.ErrCodeProcessingError)
		d.annotate(fatal, failed.mod, failed.score, false, preferredMeta)
		return fatal, fmt.Errorf("module %s failed with no usable fallback: %w", failed.mod.ID(), cause)
	}

	resp, err := safeHandle(ctx, fb, input, user)
	if err != nil {
		logger.ErrorCF(component, "Fallback module also failed, surfacing fatal dispatch failure", map[string]interface{}{
			"module":   failed.mod.ID(),
			"fallback": fb.ID(),
			"error":    err.Error(),
		})
		fatal := module.Fail("Something went wrong while processing your request. Please try again.", module.ErrCodeProcessingError)
		d.annotate(fatal, fb, failed.score, true, preferredMeta)
		return fatal, fmt.Errorf("module %s and fallback %s both failed: %w", failed.mod.ID(), fb.ID(), cause)
	}

	d.annotate(resp, fb, failed.score, true, preferredMeta)
	resp.SetMeta(module.MetaOriginalModule, failed.mod.ID())
	resp.SetMeta(module.MetaOriginalError, cause.Error())
	return resp, nil
}

// fallbackOnSelfReport handles a module that returned "I could not
// understand this". Returns ok=false when no distinct fallback exists.
func (d *Dispatcher) fallbackOnSelfReport(ctx context.Context, input string, user *module.UserContext, failed scored, preferredMeta string) (*module.Response, bool) {
	fb, ok := d.registry.FindByID(d.opts.FallbackModuleID)
	if !ok || strings.EqualFold(fb.ID(), failed.mod.ID()) {
		return nil, false
	}

	resp, err := safeHandle(ctx, fb, input, user)
	if err != nil {
		logger.WarnCF(component, "Fallback failed after module self-reported inability, keeping original response", map[string]interface{}{
			"module":   failed.mod.ID(),
			"fallback": fb.ID(),
			"error":    err.Error(),
		})
		return nil, false
	}

	d.annotate(resp, fb, failed.score, true, preferredMeta)
	resp.SetMeta(module.MetaOriginalModule, failed.mod.ID())
	return resp, true
}

// couldNotHandle applies the configured taxonomy: a reserved error code or a
// phrase marker in the message. A deliberately simple substring/enum check.
func (d *Dispatcher) couldNotHandle(resp *module.Response) bool {
	for _, code := range d.opts.CannotHandleCodes {
		if strings.EqualFold(resp.ErrorCode, code) {
			return true
		}
	}
	msg := strings.ToLower(resp.Message)
	for _, marker := range d.opts.CannotHandleMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// annotate stamps the selection metadata the dispatcher guarantees on every
// returned response.
func (d *Dispatcher) annotate(resp *module.Response, m module.Module, confidence float64, isFallback bool, preferredMeta string) {
	resp.SetMeta(module.MetaModuleID, m.ID())
	resp.SetMeta(module.MetaModuleName, m.Name())
	resp.SetMeta(module.MetaConfidence, confidence)
	resp.SetMeta(module.MetaIsFallback, isFallback)
	resp.SetMeta(module.MetaPreferredModule, preferredMeta)
}

// safeHandle invokes a module's Handle, converting panics into errors and
// a nil response into an error so callers always get exactly one of the two.
func safeHandle(ctx context.Context, m module.Module, input string, user *module.UserContext) (resp *module.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = fmt.Errorf("module %s panicked: %v", m.ID(), rec)
		}
	}()

	resp, err = m.Handle(ctx, input, user)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("module %s returned no response", m.ID())
	}
	return resp, nil
}
