package policy

import (
	"fmt"
	"strings"
)

// ValidateCheckDAG orders check ids so every check follows all of its
// depends_on edges, or reports the cycle that makes ordering impossible.
// References to unknown ids are ignored here; field validation reports
// them as schema violations so they never masquerade as cycles.
func ValidateCheckDAG(ids []string, dependsOn map[string][]string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	// blocked[id] counts unmet dependencies; unlocks maps a dependency
	// to the checks waiting on it.
	blocked := make(map[string]int, len(ids))
	unlocks := make(map[string][]string)
	for id, deps := range dependsOn {
		for _, dep := range deps {
			if !known[dep] {
				continue
			}
			blocked[id]++
			unlocks[dep] = append(unlocks[dep], id)
		}
	}

	ready := make([]string, 0, len(ids))
	for _, id := range ids {
		if blocked[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(ids))
	for next := 0; next < len(ready); next++ {
		id := ready[next]
		order = append(order, id)
		for _, waiter := range unlocks[id] {
			blocked[waiter]--
			if blocked[waiter] == 0 {
				ready = append(ready, waiter)
			}
		}
	}

	if len(order) == len(ids) {
		return order, nil
	}

	if cycle := traceCycle(ids, dependsOn, blocked); cycle != nil {
		return nil, fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
	}
	return nil, fmt.Errorf("circular dependency detected among %d checks that could not be ordered", len(ids)-len(order))
}

// traceCycle walks the still-blocked checks depth first, keeping the
// current path on a stack; revisiting an id already on the stack closes
// the cycle. Returns nil if no cycle is reachable from the blocked set.
func traceCycle(ids []string, dependsOn map[string][]string, blocked map[string]int) []string {
	onStack := make(map[string]bool)
	done := make(map[string]bool)
	var stack []string

	var walk func(id string) []string
	walk = func(id string) []string {
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range dependsOn[id] {
			if onStack[dep] {
				start := 0
				for stack[start] != dep {
					start++
				}
				return append(append([]string{}, stack[start:]...), dep)
			}
			if !done[dep] {
				if cycle := walk(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
		done[id] = true
		return nil
	}

	for _, id := range ids {
		if blocked[id] > 0 && !done[id] {
			if cycle := walk(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
