package keys

import "github.com/gdamore/tcell/v2"

// Action is one keybinding. Enabled, when set, is consulted before the
// handler runs and before the hint is shown.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Enabled     func() bool
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	return a.matches(ev.Key(), ev.Rune())
}

func (a *Action) matches(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

func (a *Action) enabled() bool {
	return a.Enabled == nil || a.Enabled()
}

type binding struct {
	name   string
	action *Action
}

// Registry holds keybindings by scope, in registration order.
type Registry struct {
	global []binding
	views  map[string][]binding
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]binding)}
}

// AddGlobal registers a global keybinding. A second registration under the
// same name replaces the first.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global = put(r.global, name, action)
}

// AddView registers a view-specific keybinding.
func (r *Registry) AddView(view, name string, action *Action) {
	r.views[view] = put(r.views[view], name, action)
}

func put(list []binding, name string, action *Action) []binding {
	for i := range list {
		if list[i].name == name {
			list[i].action = action
			return list
		}
	}
	return append(list, binding{name: name, action: action})
}

// Hints returns the descriptions of the visible, enabled bindings of view,
// view bindings first.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, b := range append(append([]binding{}, r.views[view]...), r.global...) {
		if b.action.Visible && b.action.enabled() {
			hints = append(hints, b.action.Description)
		}
	}
	return hints
}

// Actions returns every binding of view followed by the global ones,
// enabled or not.
func (r *Registry) Actions(view string) []*Action {
	var out []*Action
	for _, b := range append(append([]binding{}, r.views[view]...), r.global...) {
		out = append(out, b.action)
	}
	return out
}

// HandleEvent dispatches a key event to the first matching enabled action,
// view bindings first. Returns true if a handler ran.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	return r.handle(view, ev.Key(), ev.Rune())
}

func (r *Registry) handle(view string, key tcell.Key, ch rune) bool {
	for _, list := range [][]binding{r.views[view], r.global} {
		for _, b := range list {
			if b.action.matches(key, ch) && b.action.enabled() {
				b.action.Handler()
				return true
			}
		}
	}
	return false
}
