package projection

import (
	"fmt"

	"github.com/golang/glog"
)

// A screen is a controller that owns one screen's state. `Schema` is the
// only required capability; the dispatcher probes for the optional
// lifecycle interfaces and substitutes a default when one is absent:
//   Mount         state unchanged
//   HandleEvent   state unchanged
//   HandleParams  full re-mount with the new params
//   HandleInfo    state unchanged
//   Subscriptions empty set
//   Render        assigns projected onto the schema keys
type Screen interface {
	// field name -> default value for the screen's public vm surface
	Schema() map[string]any
}

type MountScreen interface {
	Screen
	Mount(params map[string]any, screenSession string, state *ScreenState) (*ScreenState, error)
}

type EventScreen interface {
	Screen
	HandleEvent(name string, payload map[string]any, state *ScreenState) (*ScreenState, error)
}

type ParamsScreen interface {
	Screen
	HandleParams(params map[string]any, state *ScreenState) (*ScreenState, error)
}

type InfoScreen interface {
	Screen
	HandleInfo(message any, state *ScreenState) (*ScreenState, error)
}

type SubscribingScreen interface {
	Screen
	Subscriptions(params map[string]any, screenSession string) []string
}

type RenderScreen interface {
	Screen
	Render(assigns map[string]any) map[string]any
}

// ScreenRegistry maps stable module names, as referenced by route
// definitions, to screen controllers.
type ScreenRegistry map[string]Screen

func (self ScreenRegistry) Resolve(screenModule string) (Screen, error) {
	screen, ok := self[screenModule]
	if !ok {
		return nil, fmt.Errorf("unknown screen module %q", screenModule)
	}
	return screen, nil
}

// mountScreen seeds state from the schema defaults and runs the mount
// hook. A mount fault is a hard error and aborts session start.
func mountScreen(screen Screen, screenModule string, params map[string]any, screenSession string) (*ScreenState, error) {
	state := NewScreenState(screen.Schema())
	mounter, ok := screen.(MountScreen)
	if !ok {
		return state, nil
	}

	var nextState *ScreenState
	var mountErr error
	r := HandleError(func() {
		nextState, mountErr = mounter.Mount(params, screenSession, state)
	})
	if r != nil {
		return nil, fmt.Errorf("mount panic in %s: %v", screenModule, r)
	}
	if mountErr != nil {
		return nil, fmt.Errorf("mount error in %s: %w", screenModule, mountErr)
	}
	if nextState == nil {
		return nil, fmt.Errorf("mount in %s did not return a screen state", screenModule)
	}
	return nextState, nil
}

// dispatchEvent runs the event hook. On a fault or a malformed result the
// prior state is kept and the intent degrades to a no-op.
func dispatchEvent(screen Screen, screenModule string, name string, payload map[string]any, state *ScreenState) *ScreenState {
	handler, ok := screen.(EventScreen)
	if !ok {
		return state
	}
	return guardedHookResult(screenModule, "handle_event", state, func() (*ScreenState, error) {
		return handler.HandleEvent(name, payload, state)
	})
}

// dispatchParams runs the params hook. When the hook is absent the screen
// is re-mounted with the new params, and the second return reports that
// the state was replaced wholesale. The re-mount intentionally follows
// the source behavior even though it breaks the patch-preserves-mount
// contract.
func dispatchParams(screen Screen, screenModule string, params map[string]any, screenSession string, state *ScreenState) (*ScreenState, bool) {
	handler, ok := screen.(ParamsScreen)
	if !ok {
		remountedState, err := mountScreen(screen, screenModule, params, screenSession)
		if err != nil {
			glog.Warningf("[sc]%s re-mount on params failed, keeping state = %s\n", screenModule, err)
			return state, false
		}
		return remountedState, true
	}
	return guardedHookResult(screenModule, "handle_params", state, func() (*ScreenState, error) {
		return handler.HandleParams(params, state)
	}), false
}

func dispatchInfo(screen Screen, screenModule string, message any, state *ScreenState) *ScreenState {
	handler, ok := screen.(InfoScreen)
	if !ok {
		return state
	}
	return guardedHookResult(screenModule, "handle_info", state, func() (*ScreenState, error) {
		return handler.HandleInfo(message, state)
	})
}

// renderScreen produces the screen's vm subtree. A panic in the render
// hook is surfaced as an error so the session can switch to the error vm.
func renderScreen(screen Screen, screenModule string, assigns map[string]any) (vm map[string]any, err error) {
	renderer, ok := screen.(RenderScreen)
	if !ok {
		return projectSchema(screen.Schema(), assigns), nil
	}
	r := HandleError(func() {
		vm = renderer.Render(assigns)
	})
	if r != nil {
		return nil, fmt.Errorf("render panic in %s: %v", screenModule, r)
	}
	if vm == nil {
		return nil, fmt.Errorf("render in %s did not return a mapping", screenModule)
	}
	return vm, nil
}

// screenSubscriptions returns the topic set the screen declares. Faults
// and malformed results coerce to the empty set.
func screenSubscriptions(screen Screen, screenModule string, params map[string]any, screenSession string) []string {
	subscriber, ok := screen.(SubscribingScreen)
	if !ok {
		return []string{}
	}
	topics := []string{}
	HandleError(func() {
		if declared := subscriber.Subscriptions(params, screenSession); declared != nil {
			topics = declared
		}
	}, func() {
		glog.Warningf("[sc]%s subscriptions fault, using empty set\n", screenModule)
		topics = []string{}
	})
	return topics
}

func guardedHookResult(screenModule string, hook string, state *ScreenState, do func() (*ScreenState, error)) *ScreenState {
	var nextState *ScreenState
	var hookErr error
	r := HandleError(func() {
		nextState, hookErr = do()
	})
	if r != nil || hookErr != nil || nextState == nil {
		glog.Warningf("[sc]%s %s fault, keeping state (r = %v, err = %v)\n", screenModule, hook, r, hookErr)
		return state
	}
	return nextState
}

// default render: project the assigns onto the schema keys, falling back
// to the schema default when an assign is missing.
func projectSchema(schema map[string]any, assigns map[string]any) map[string]any {
	vm := map[string]any{}
	for field, defaultValue := range schema {
		if value, ok := assigns[field]; ok {
			vm[field] = value
		} else {
			vm[field] = defaultValue
		}
	}
	return vm
}
