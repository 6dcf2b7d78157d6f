package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/matdev83/llm-interactive-proxy-sub007/internal/domain/entity"
)

// routeNameAndPolicy pulls the name= and policy= arguments shared by the
// route management commands.
func routeName(cmd *entity.Command) string {
	if v, ok := cmd.FirstArg("name", "route"); ok {
		return v
	}
	if len(cmd.Positional) > 0 {
		return cmd.Positional[0]
	}
	if v, ok := cmd.Arg("arg"); ok {
		return v
	}
	return ""
}

// createRouteHandler defines a new, empty failover route on the session.
type createRouteHandler struct{}

func (h *createRouteHandler) Name() string        { return "create-failover-route" }
func (h *createRouteHandler) Description() string { return "Create a named failover route" }
func (h *createRouteHandler) Format() string      { return "create-failover-route(name=..., policy=k|m|km|mk)" }
func (h *createRouteHandler) Examples() []string {
	return []string{"!/create-failover-route(name=main, policy=km)"}
}

func (h *createRouteHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name := routeName(cmd)
	if name == "" {
		return entity.Fail("create-failover-route", "create-failover-route requires name=")
	}
	policy, _ := cmd.Arg("policy")
	if policy == "" {
		policy = entity.PolicyKeyRotate
	}
	if !entity.ValidPolicy(policy) {
		return entity.Fail("create-failover-route",
			fmt.Sprintf("invalid policy %q, must be one of k, m, km, mk", policy))
	}
	route := entity.FailoverRoute{Name: name, Policy: policy}
	return entity.Succeed("create-failover-route",
		fmt.Sprintf("route %s created with policy %s", name, policy)).
		WithState(sess.State.WithRoute(route))
}

// deleteRouteHandler removes a named route.
type deleteRouteHandler struct{}

func (h *deleteRouteHandler) Name() string        { return "delete-failover-route" }
func (h *deleteRouteHandler) Description() string { return "Delete a named failover route" }
func (h *deleteRouteHandler) Format() string      { return "delete-failover-route(name=...)" }
func (h *deleteRouteHandler) Examples() []string  { return []string{"!/delete-failover-route(name=main)"} }

func (h *deleteRouteHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name := routeName(cmd)
	if name == "" {
		return entity.Fail("delete-failover-route", "delete-failover-route requires name=")
	}
	if _, ok := sess.State.Route(name); !ok {
		return entity.Fail("delete-failover-route", "no such route: "+name)
	}
	return entity.Succeed("delete-failover-route", "route "+name+" deleted").
		WithState(sess.State.WithoutRouteNamed(name))
}

// listRoutesHandler renders every route with its policy and element count.
type listRoutesHandler struct{}

func (h *listRoutesHandler) Name() string        { return "list-failover-routes" }
func (h *listRoutesHandler) Description() string { return "List failover routes defined on this session" }
func (h *listRoutesHandler) Format() string      { return "list-failover-routes()" }
func (h *listRoutesHandler) Examples() []string  { return []string{"!/list-failover-routes"} }

func (h *listRoutesHandler) Handle(_ context.Context, _ *entity.Command, sess *entity.Session) entity.CommandResult {
	if len(sess.State.Routes) == 0 {
		return entity.Succeed("list-failover-routes", "no failover routes defined")
	}
	names := make([]string, 0, len(sess.State.Routes))
	for n := range sess.State.Routes {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		r := sess.State.Routes[n]
		fmt.Fprintf(&b, "%s: policy=%s, %d element(s)\n", r.Name, r.Policy, len(r.Elements))
	}
	return entity.Succeed("list-failover-routes", strings.TrimRight(b.String(), "\n"))
}

// routeAppendHandler adds a backend:model element to a route, at the end or
// the front depending on prepend.
type routeAppendHandler struct {
	backends BackendInfo
	prepend  bool
}

func (h *routeAppendHandler) Name() string {
	if h.prepend {
		return "route-prepend"
	}
	return "route-append"
}

func (h *routeAppendHandler) Description() string {
	if h.prepend {
		return "Insert a backend:model element at the front of a route"
	}
	return "Append a backend:model element to a route"
}

func (h *routeAppendHandler) Format() string {
	return h.Name() + "(name=..., element=backend:model)"
}

func (h *routeAppendHandler) Examples() []string {
	return []string{"!/" + h.Name() + "(name=main, element=openai:gpt-4)"}
}

func (h *routeAppendHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name, _ := cmd.FirstArg("name", "route")
	element, _ := cmd.FirstArg("element", "model")
	// Bare form: route-append(main, openai:gpt-4).
	if name == "" && len(cmd.Positional) > 0 {
		name = cmd.Positional[0]
	}
	if element == "" && len(cmd.Positional) > 1 {
		element = cmd.Positional[1]
	}
	if name == "" || element == "" {
		return entity.Fail(h.Name(), h.Name()+" requires name= and element=backend:model")
	}

	backend, model := splitBackendModel(element)
	if backend == "" {
		return entity.Fail(h.Name(), "element must be backend:model, got "+element)
	}
	if !h.backends.HasBackend(backend) {
		return entity.Fail(h.Name(), "unknown backend: "+backend)
	}
	_ = model // existence of the model is checked at dispatch time

	route, ok := sess.State.Route(name)
	if !ok {
		return entity.Fail(h.Name(), "no such route: "+name)
	}
	if h.prepend {
		route.Elements = append([]string{element}, route.Elements...)
	} else {
		route.Elements = append(route.Elements, element)
	}
	return entity.Succeed(h.Name(),
		fmt.Sprintf("route %s now has %d element(s)", name, len(route.Elements))).
		WithState(sess.State.WithRoute(route))
}

// routeClearHandler empties a route's element list, keeping the route.
type routeClearHandler struct{}

func (h *routeClearHandler) Name() string        { return "route-clear" }
func (h *routeClearHandler) Description() string { return "Remove all elements from a route" }
func (h *routeClearHandler) Format() string      { return "route-clear(name=...)" }
func (h *routeClearHandler) Examples() []string  { return []string{"!/route-clear(name=main)"} }

func (h *routeClearHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name := routeName(cmd)
	if name == "" {
		return entity.Fail("route-clear", "route-clear requires name=")
	}
	route, ok := sess.State.Route(name)
	if !ok {
		return entity.Fail("route-clear", "no such route: "+name)
	}
	route.Elements = nil
	return entity.Succeed("route-clear", "route "+name+" cleared").
		WithState(sess.State.WithRoute(route))
}

// routeElementsHandler prints a route's elements in attempt order.
type routeElementsHandler struct{}

func (h *routeElementsHandler) Name() string        { return "route-list" }
func (h *routeElementsHandler) Description() string { return "Show the elements of a route in order" }
func (h *routeElementsHandler) Format() string      { return "route-list(name=...)" }
func (h *routeElementsHandler) Examples() []string  { return []string{"!/route-list(name=main)"} }

func (h *routeElementsHandler) Handle(_ context.Context, cmd *entity.Command, sess *entity.Session) entity.CommandResult {
	name := routeName(cmd)
	if name == "" {
		return entity.Fail("route-list", "route-list requires name=")
	}
	route, ok := sess.State.Route(name)
	if !ok {
		return entity.Fail("route-list", "no such route: "+name)
	}
	if len(route.Elements) == 0 {
		return entity.Succeed("route-list", fmt.Sprintf("route %s (policy %s) is empty", name, route.Policy))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "route %s (policy %s):\n", name, route.Policy)
	for i, el := range route.Elements {
		fmt.Fprintf(&b, "%d. %s\n", i+1, el)
	}
	return entity.Succeed("route-list", strings.TrimRight(b.String(), "\n"))
}
