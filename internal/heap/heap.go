// Package heap implements the tracing mark-and-sweep collector over
// the tracked object arena described by the data model. Go's own
// garbage collector owns the real memory underneath every
// object.Object; this collector is a bookkeeping layer on top that
// reproduces the mark/sweep contract (roots, safe points, an
// allocation-count trigger) so the vm can exercise and report on it
// without resorting to unsafe, manually-managed memory.
package heap

import (
	"vela-vm/internal/object"
)

// approxSize is a notional per-kind byte cost used only for -gc-stats
// reporting; it does not correspond to any real Go allocation size.
func approxSize(o object.Object) uint64 {
	switch o.(type) {
	case *object.StringObj:
		return 32
	case *object.Chunk:
		return 128
	case *object.Closure:
		return 48
	case *object.UpvalueCell:
		return 24
	case *object.PartialApp:
		return 40
	case *object.BoundMethodObj:
		return 32
	case *object.StructDescriptorObj, *object.EnumDescriptorObj:
		return 64
	case *object.StructInstanceObj, *object.EnumInstanceObj:
		return 48
	case *object.ListObj:
		return 24
	default:
		return 16
	}
}

// RootSource is implemented by the vm: it reports every Value directly
// reachable from a GC root (operand stack, call-frame upvalue vectors,
// globals, the entry value, and any value a builtin is transiently
// holding during its own call).
type RootSource interface {
	GCRoots() []object.Value
}

// Stats summarizes one collection, for the `-gc-stats` CLI flag.
type Stats struct {
	Collections   int
	LiveBefore    int
	Swept         int
	BytesSwept    uint64
	LiveAfter     int
}

type Heap struct {
	objects       []object.Object
	allocSinceGC  int
	threshold     int
	totalStats    Stats
}

const initialThreshold = 256
const growFactor = 2

func New() *Heap {
	return &Heap{threshold: initialThreshold}
}

// Track registers a freshly allocated object in the arena. Every
// constructor in internal/object that produces a heap kind should be
// wrapped with a call to Track at the allocation site (the compiler
// and vm do this).
func (h *Heap) Track(o object.Object) object.Object {
	h.objects = append(h.objects, o)
	h.allocSinceGC++
	return o
}

func (h *Heap) NewString(s string) *object.StringObj {
	return h.Track(&object.StringObj{S: s}).(*object.StringObj)
}

// ShouldCollect reports whether the allocation-count threshold has
// been crossed; the vm checks this at a safe point (between opcodes)
// and calls Collect if true.
func (h *Heap) ShouldCollect() bool {
	return h.allocSinceGC >= h.threshold
}

// Collect runs one mark-and-sweep pass rooted at roots.GCRoots(). It
// is safe to call unconditionally; ShouldCollect exists only so the vm
// can avoid the cost of walking roots every single opcode.
func (h *Heap) Collect(roots RootSource) Stats {
	marked := make(map[object.Object]bool, len(h.objects))
	var mark func(object.Object)
	mark = func(o object.Object) {
		if o == nil || marked[o] {
			return
		}
		marked[o] = true
		o.Trace(mark)
	}

	for _, v := range roots.GCRoots() {
		if v.Obj != nil {
			mark(v.Obj)
		}
	}

	liveBefore := len(h.objects)
	kept := h.objects[:0]
	var sweptBytes uint64
	swept := 0
	for _, o := range h.objects {
		if marked[o] {
			kept = append(kept, o)
		} else {
			swept++
			sweptBytes += approxSize(o)
		}
	}
	h.objects = kept
	h.allocSinceGC = 0
	h.threshold = max(initialThreshold, len(h.objects)*growFactor)

	stats := Stats{
		Collections: 1,
		LiveBefore:  liveBefore,
		Swept:       swept,
		BytesSwept:  sweptBytes,
		LiveAfter:   len(h.objects),
	}
	h.totalStats.Collections++
	h.totalStats.Swept += swept
	h.totalStats.BytesSwept += sweptBytes
	return stats
}

// TotalStats accumulates Swept/BytesSwept/Collections across every
// collection run so far, for a final -gc-stats summary.
func (h *Heap) TotalStats() Stats {
	s := h.totalStats
	s.LiveAfter = len(h.objects)
	return s
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
