package projection

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// The route table is the runtime output of the route dsl. The first
// route is the default.

type RouteDef struct {
	Name         string
	Path         string
	Key          string
	ScreenModule string
	Action       string
	// routing boundary. navigation across boundaries is forbidden.
	ScreenSession string
}

type Router struct {
	routeDefs   []RouteDef
	byName      map[string]RouteDef
	defaultName string
}

// NewRouter validates the invariants the dsl builder guarantees: at least
// one route, and unique names, paths, and keys.
func NewRouter(routeDefs []RouteDef) (*Router, error) {
	if len(routeDefs) == 0 {
		return nil, errors.New("route table is empty")
	}
	byName := map[string]RouteDef{}
	paths := map[string]bool{}
	keys := map[string]bool{}
	for _, routeDef := range routeDefs {
		if _, ok := byName[routeDef.Name]; ok {
			return nil, fmt.Errorf("duplicate route name %q", routeDef.Name)
		}
		if paths[routeDef.Path] {
			return nil, fmt.Errorf("duplicate route path %q", routeDef.Path)
		}
		if keys[routeDef.Key] {
			return nil, fmt.Errorf("duplicate route key %q", routeDef.Key)
		}
		byName[routeDef.Name] = routeDef
		paths[routeDef.Path] = true
		keys[routeDef.Key] = true
	}
	return &Router{
		routeDefs:   slices.Clone(routeDefs),
		byName:      byName,
		defaultName: routeDefs[0].Name,
	}, nil
}

func RequireNewRouter(routeDefs []RouteDef) *Router {
	router, err := NewRouter(routeDefs)
	if err != nil {
		panic(err)
	}
	return router
}

func (self *Router) DefaultRouteName() string {
	return self.defaultName
}

func (self *Router) RouteDefs() map[string]RouteDef {
	routeDefs := map[string]RouteDef{}
	maps.Copy(routeDefs, self.byName)
	return routeDefs
}

func (self *Router) Resolve(name string) (RouteDef, bool) {
	routeDef, ok := self.byName[name]
	return routeDef, ok
}

// NavEntry is one entry of the navigation stack.
type NavEntry struct {
	Name   string
	Params map[string]any
	Action string
}

// Nav is a non-empty stack of route entries. Stored top-first for o(1)
// push/pop; the vm presentation reverses to oldest-first.
type Nav struct {
	stack []NavEntry
}

func (self *Router) InitialNav(name string, params map[string]any) (*Nav, error) {
	routeDef, ok := self.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("unknown route %q", name)
	}
	return &Nav{
		stack: []NavEntry{navEntry(routeDef, params)},
	}, nil
}

func (self *Nav) Current() NavEntry {
	return self.stack[0]
}

func (self *Nav) Depth() int {
	return len(self.stack)
}

func (self *Router) CurrentRoute(nav *Nav) RouteDef {
	routeDef, _ := self.Resolve(nav.Current().Name)
	return routeDef
}

func (self *Router) Navigate(nav *Nav, name string, params map[string]any) (*Nav, error) {
	routeDef, ok := self.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("unknown route %q", name)
	}
	return &Nav{
		stack: append([]NavEntry{navEntry(routeDef, params)}, nav.stack...),
	}, nil
}

// Back pops the stack. Fails when only one entry remains.
func (self *Router) Back(nav *Nav) (*Nav, error) {
	if len(nav.stack) <= 1 {
		return nil, errors.New("nav stack bottom")
	}
	return &Nav{
		stack: slices.Clone(nav.stack[1:]),
	}, nil
}

// PatchParams merges into the top entry's params without pushing.
func (self *Router) PatchParams(nav *Nav, paramsPatch map[string]any) *Nav {
	current := nav.Current()
	params := map[string]any{}
	maps.Copy(params, current.Params)
	maps.Copy(params, paramsPatch)
	current.Params = params
	return &Nav{
		stack: append([]NavEntry{current}, nav.stack[1:]...),
	}
}

// IsScreenSessionTransition reports whether navigating from the current
// route to `toName` crosses a routing boundary.
func (self *Router) IsScreenSessionTransition(nav *Nav, toName string) bool {
	toDef, ok := self.Resolve(toName)
	if !ok {
		return false
	}
	return self.CurrentRoute(nav).ScreenSession != toDef.ScreenSession
}

// NavVm presents the stack oldest-first with the top entry as current.
func (self *Router) NavVm(nav *Nav) map[string]any {
	stack := make([]any, len(nav.stack))
	for i, entry := range nav.stack {
		stack[len(nav.stack)-1-i] = navEntryVm(entry)
	}
	return map[string]any{
		"stack":   stack,
		"current": navEntryVm(nav.Current()),
	}
}

func navEntry(routeDef RouteDef, params map[string]any) NavEntry {
	if params == nil {
		params = map[string]any{}
	}
	return NavEntry{
		Name:   routeDef.Name,
		Params: params,
		Action: routeDef.Action,
	}
}

func navEntryVm(entry NavEntry) map[string]any {
	vm := map[string]any{
		"name":   entry.Name,
		"params": entry.Params,
	}
	if entry.Action != "" {
		vm["action"] = entry.Action
	}
	return vm
}
