package rag

// history stores conversation turns append-only. Prompts read a bounded
// window from the newest end; older turns stay recorded.
type history struct {
	turns []Turn
}

func (h *history) append(turns ...Turn) {
	h.turns = append(h.turns, turns...)
}

// window returns a copy of the most recent limit turns, oldest first.
// A limit of zero or less yields nothing.
func (h *history) window(limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	start := len(h.turns) - limit
	if start < 0 {
		start = 0
	}

	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

// all returns a copy of every recorded turn, oldest first.
func (h *history) all() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *history) len() int {
	return len(h.turns)
}
