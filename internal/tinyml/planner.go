package tinyml

import "sort"

// arenaAlignment is the byte alignment of every tensor placed in the arena.
const arenaAlignment = 16

func alignUp(n int) int { return (n + arenaAlignment - 1) &^ (arenaAlignment - 1) }

// allocation is one arena-resident tensor and the operator span during
// which it must stay live.
type allocation struct {
	tensor      int
	size        int
	first, last int
	offset      int
}

// planArena assigns arena offsets to every non-constant tensor. Tensors
// whose lifetimes do not overlap may share memory. Placement is greedy
// first-fit, largest tensors first. It returns the offsets and the total
// number of bytes needed.
func planArena(m *Model) (map[int]int, int) {
	live := map[int]*allocation{}
	touch := func(idx, step int) {
		t := &m.Tensors[idx]
		if t.IsConstant() {
			return
		}
		a, ok := live[idx]
		if !ok {
			a = &allocation{tensor: idx, size: alignUp(t.Bytes()), first: step, last: step}
			live[idx] = a
		}
		a.first = min(a.first, step)
		a.last = max(a.last, step)
	}

	// Graph inputs are live from before the first operator, outputs until
	// after the last.
	for _, idx := range m.Inputs {
		touch(idx, -1)
	}
	for step, op := range m.Operators {
		for _, idx := range op.Inputs {
			touch(idx, step)
		}
		for _, idx := range op.Outputs {
			touch(idx, step)
		}
	}
	for _, idx := range m.Outputs {
		touch(idx, len(m.Operators))
	}

	order := make([]*allocation, 0, len(live))
	for _, a := range live {
		order = append(order, a)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].size != order[j].size {
			return order[i].size > order[j].size
		}
		return order[i].tensor < order[j].tensor
	})

	var placed []*allocation
	total := 0
	for _, a := range order {
		// Collect conflicting ranges sorted by offset and slide past them.
		var conflicts []*allocation
		for _, p := range placed {
			if p.first <= a.last && a.first <= p.last {
				conflicts = append(conflicts, p)
			}
		}
		sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].offset < conflicts[j].offset })
		off := 0
		for _, c := range conflicts {
			if off+a.size <= c.offset {
				break
			}
			off = max(off, c.offset+c.size)
		}
		a.offset = off
		placed = append(placed, a)
		total = max(total, off+a.size)
	}

	offsets := make(map[int]int, len(placed))
	for _, a := range placed {
		offsets[a.tensor] = a.offset
	}
	return offsets, total
}
