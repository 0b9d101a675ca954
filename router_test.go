package projection

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func testRouter() *Router {
	return RequireNewRouter([]RouteDef{
		{
			Name:          "clock",
			Path:          "/clock",
			Key:           "clock",
			ScreenModule:  "demo.clock",
			ScreenSession: "main",
		},
		{
			Name:          "devices",
			Path:          "/devices",
			Key:           "devices",
			ScreenModule:  "demo.devices",
			Action:        "inspect",
			ScreenSession: "main",
		},
		{
			Name:          "admin",
			Path:          "/admin",
			Key:           "admin",
			ScreenModule:  "demo.admin",
			ScreenSession: "admin",
		},
	})
}

func TestRouterValidation(t *testing.T) {
	_, err := NewRouter([]RouteDef{})
	assert.NotEqual(t, nil, err)

	_, err = NewRouter([]RouteDef{
		{Name: "a", Path: "/a", Key: "a"},
		{Name: "a", Path: "/b", Key: "b"},
	})
	assert.NotEqual(t, nil, err)

	_, err = NewRouter([]RouteDef{
		{Name: "a", Path: "/a", Key: "a"},
		{Name: "b", Path: "/a", Key: "b"},
	})
	assert.NotEqual(t, nil, err)
}

func TestRouterDefaultRoute(t *testing.T) {
	router := testRouter()
	assert.Equal(t, "clock", router.DefaultRouteName())

	routeDef, ok := router.Resolve("devices")
	assert.Equal(t, true, ok)
	assert.Equal(t, "demo.devices", routeDef.ScreenModule)

	_, ok = router.Resolve("missing")
	assert.Equal(t, false, ok)
}

func TestNavStack(t *testing.T) {
	router := testRouter()
	nav, err := router.InitialNav("clock", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, nav.Depth())
	assert.Equal(t, "clock", nav.Current().Name)

	nav, err = router.Navigate(nav, "devices", map[string]any{"filter": "online"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, nav.Depth())
	assert.Equal(t, "devices", nav.Current().Name)
	assert.Equal(t, "online", nav.Current().Params["filter"])

	nav, err = router.Back(nav)
	assert.Equal(t, nil, err)
	assert.Equal(t, "clock", nav.Current().Name)

	_, err = router.Back(nav)
	assert.NotEqual(t, nil, err)
}

func TestNavPatchParamsDoesNotPush(t *testing.T) {
	router := testRouter()
	nav, _ := router.InitialNav("devices", map[string]any{"filter": "online", "page": 1})

	nav = router.PatchParams(nav, map[string]any{"page": 2})
	assert.Equal(t, 1, nav.Depth())
	assert.Equal(t, "online", nav.Current().Params["filter"])
	assert.Equal(t, 2, nav.Current().Params["page"])
}

func TestScreenSessionTransition(t *testing.T) {
	router := testRouter()
	nav, _ := router.InitialNav("clock", nil)

	assert.Equal(t, false, router.IsScreenSessionTransition(nav, "devices"))
	assert.Equal(t, true, router.IsScreenSessionTransition(nav, "admin"))
	assert.Equal(t, false, router.IsScreenSessionTransition(nav, "missing"))
}

func TestNavVmIsOldestFirst(t *testing.T) {
	router := testRouter()
	nav, _ := router.InitialNav("clock", nil)
	nav, _ = router.Navigate(nav, "devices", nil)

	vm := router.NavVm(nav)
	stack := vm["stack"].([]any)
	assert.Equal(t, 2, len(stack))
	assert.Equal(t, "clock", stack[0].(map[string]any)["name"])
	assert.Equal(t, "devices", stack[1].(map[string]any)["name"])

	current := vm["current"].(map[string]any)
	assert.Equal(t, "devices", current["name"])
	assert.Equal(t, "inspect", current["action"])
}
