package system

import (
	"fmt"
	"slices"
	"strings"

	"actorbridge/pkg/actor"
	"actorbridge/pkg/config"
)

// processorFor maps a configured actor kind onto a built-in processor.
func processorFor(cfg config.ActorConfig) (func(*Runtime) actor.Processor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "echo":
		return func(*Runtime) actor.Processor { return actor.Echo() }, nil
	case "answer":
		text := cfg.Text
		return func(*Runtime) actor.Processor { return actor.Answer(text) }, nil
	case "delegate":
		target := strings.TrimSpace(cfg.Target)
		return func(r *Runtime) actor.Processor { return actor.Delegate(r, target) }, nil
	case "router":
		routes := make(map[string]string, len(cfg.Routes))
		for cmd, target := range cfg.Routes {
			routes[cmd] = strings.TrimSpace(target)
		}
		return func(r *Runtime) actor.Processor {
			router := actor.NewRouter(actor.Echo())
			for cmd, target := range routes {
				router.Handle(cmd, actor.Delegate(r, target))
			}
			return router
		}, nil
	default:
		return nil, fmt.Errorf("unsupported actor kind %q", cfg.Kind)
	}
}

// actorTargets lists the actors a configured actor asks.
func actorTargets(cfg config.ActorConfig) []string {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "delegate":
		return []string{strings.TrimSpace(cfg.Target)}
	case "router":
		targets := make([]string, 0, len(cfg.Routes))
		for _, target := range cfg.Routes {
			targets = append(targets, strings.TrimSpace(target))
		}
		slices.Sort(targets)
		return slices.Compact(targets)
	default:
		return nil
	}
}

// askCycle returns the first delegation loop among actors, starting and
// ending with the same name, or nil when the targets form a DAG.
func askCycle(actors map[string]config.ActorConfig) []string {
	const (
		visiting = 1
		visited  = 2
	)

	marks := make(map[string]int, len(actors))
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		switch marks[name] {
		case visited:
			return nil
		case visiting:
			start := slices.Index(path, name)
			return append(slices.Clone(path[start:]), name)
		}

		marks[name] = visiting
		path = append(path, name)
		for _, target := range actorTargets(actors[name]) {
			if cycle := visit(target); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		marks[name] = visited
		return nil
	}

	names := make([]string, 0, len(actors))
	for name := range actors {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}
