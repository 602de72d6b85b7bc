package hub

// history is a fixed-capacity ring of recently broadcast envelopes, kept for
// diagnostics. It is owned by the hub's run loop and needs no locking.
type history struct {
	buf   []Envelope
	next  int
	count int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{buf: make([]Envelope, capacity)}
}

func (h *history) Append(e Envelope) {
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

func (h *history) Len() int {
	return h.count
}

// Recent returns up to n envelopes, oldest first.
func (h *history) Recent(n int) []Envelope {
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]Envelope, 0, n)
	start := h.next - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
