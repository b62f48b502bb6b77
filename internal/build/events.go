package build

import (
	"sort"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// Normalize de-duplicates events so each path has at most one live event,
// then rewrites them into the two primitive mutations: removals, sorted by
// path, followed by creations in first-seen order. Modified and NewMetadata
// become a removal plus a creation.
func Normalize(events []pak.InputEvent) []pak.InputEvent {
	type state struct {
		removed bool
		created bool
		order   int
	}

	states := make(map[pak.InputPath]*state, len(events))
	order := 0
	for _, ev := range events {
		st, ok := states[ev.Path]
		if !ok {
			st = &state{order: order}
			order++
			states[ev.Path] = st
		}

		switch ev.Kind {
		case pak.EventCreated:
			st.created = true
		case pak.EventRemoved:
			st.removed = true
			st.created = false
		case pak.EventModified, pak.EventNewMetadata:
			st.removed = true
			st.created = true
		}
	}

	var removals, creations []pak.InputPath
	for p, st := range states {
		if st.removed {
			removals = append(removals, p)
		}
		if st.created {
			creations = append(creations, p)
		}
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i] < removals[j] })
	sort.Slice(creations, func(i, j int) bool { return states[creations[i]].order < states[creations[j]].order })

	out := make([]pak.InputEvent, 0, len(removals)+len(creations))
	for _, p := range removals {
		out = append(out, pak.Removed(p))
	}
	for _, p := range creations {
		out = append(out, pak.Created(p))
	}

	return out
}
