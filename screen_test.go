package projection

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

type schemaOnlyScreen struct {
}

func (self *schemaOnlyScreen) Schema() map[string]any {
	return map[string]any{
		"title": "untitled",
		"count": 0,
	}
}

type badMountScreen struct {
	schemaOnlyScreen
}

func (self *badMountScreen) Mount(params map[string]any, screenSession string, state *ScreenState) (*ScreenState, error) {
	return nil, errors.New("mount refused")
}

type subscriptionPanicScreen struct {
	schemaOnlyScreen
}

func (self *subscriptionPanicScreen) Subscriptions(params map[string]any, screenSession string) []string {
	panic("no topics for you")
}

func TestDispatcherDefaults(t *testing.T) {
	screen := &schemaOnlyScreen{}

	// absent mount seeds from schema defaults
	state, err := mountScreen(screen, "test.schema", map[string]any{}, "main")
	assert.Equal(t, nil, err)
	value, _ := state.Get("title")
	assert.Equal(t, "untitled", value)

	// absent event handler keeps state
	nextState := dispatchEvent(screen, "test.schema", "anything", map[string]any{}, state)
	assert.Equal(t, state, nextState)

	// absent info handler keeps state
	nextState = dispatchInfo(screen, "test.schema", "tick", state)
	assert.Equal(t, state, nextState)

	// absent subscriptions is the empty set
	assert.Equal(t, 0, len(screenSubscriptions(screen, "test.schema", map[string]any{}, "main")))

	// default render projects assigns onto schema keys
	state.Assign("count", 3)
	vm, err := renderScreen(screen, "test.schema", state.Assigns())
	assert.Equal(t, nil, err)
	assert.Equal(t, map[string]any{
		"title": "untitled",
		"count": 3,
	}, vm)
}

func TestDispatcherMountFaultIsHard(t *testing.T) {
	_, err := mountScreen(&badMountScreen{}, "test.bad", map[string]any{}, "main")
	assert.NotEqual(t, nil, err)
}

func TestDispatcherEventFaultKeepsPriorState(t *testing.T) {
	screen := &faultyEventScreen{}
	state := NewScreenState(screen.Schema())

	nextState := dispatchEvent(screen, "test.faulty", "explode", map[string]any{}, state)
	assert.Equal(t, state, nextState)
}

func TestDispatcherParamsWithoutHookRemounts(t *testing.T) {
	screen := &schemaOnlyScreen{}
	state := NewScreenState(screen.Schema())
	state.Assign("count", 9)

	nextState, remounted := dispatchParams(screen, "test.schema", map[string]any{"page": 2}, "main", state)
	value, _ := nextState.Get("count")
	// a re-mount reseeds from the schema
	assert.Equal(t, true, remounted)
	assert.Equal(t, 0, value)
}

type paramsScreen struct {
	schemaOnlyScreen
}

func (self *paramsScreen) HandleParams(params map[string]any, state *ScreenState) (*ScreenState, error) {
	if page, ok := params["page"]; ok {
		state.Assign("count", page)
	}
	return state, nil
}

func TestDispatcherParamsHookPreservesMount(t *testing.T) {
	screen := &paramsScreen{}
	state := NewScreenState(screen.Schema())
	state.Assign("title", "kept")

	nextState, remounted := dispatchParams(screen, "test.params", map[string]any{"page": 2}, "main", state)
	assert.Equal(t, false, remounted)
	value, _ := nextState.Get("title")
	assert.Equal(t, "kept", value)
	value, _ = nextState.Get("count")
	assert.Equal(t, 2, value)
}

func TestDispatcherRenderFaultIsReported(t *testing.T) {
	_, err := renderScreen(&brokenRenderScreen{}, "test.broken", map[string]any{})
	assert.NotEqual(t, nil, err)
}

func TestDispatcherSubscriptionsFaultCoercesEmpty(t *testing.T) {
	topics := screenSubscriptions(&subscriptionPanicScreen{}, "test.panic", map[string]any{}, "main")
	assert.Equal(t, 0, len(topics))
}
