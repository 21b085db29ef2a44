package kheap

import (
	"sort"
	"sync"
	"sync/atomic"

	"corvid/defs"
	"corvid/mem"
	"corvid/vmm"
)

// slab is one page-aligned run handed out whole by a Cache's owning
// VirtRange, carved into fixed-size objects.
type slab struct {
	base  uintptr
	free  []uintptr // addresses of this slab's still-unused objects
	inuse int
}

func (s *slab) empty() bool { return s.inuse == 0 }
func (s *slab) full() bool  { return len(s.free) == 0 }

// magazine is a per-CPU cache of recently-freed objects (spec.md §4.3):
// draining and filling it only touches the owning Cache's locked slab
// lists when it runs dry or overflows, so the hot alloc/free path takes
// only this magazine's own mutex in the common case, never the
// Cache-wide lock.
type magazine struct {
	mu   sync.Mutex
	objs []uintptr
}

const magazineCapacity = 16

// Cache is a slab cache (spec.md §4.3): one object size class, its own
// full/partial/empty slab lists, and a magazine per CPU. Priority is
// consulted by Reclaim, which a background reclaim daemon would call
// under memory pressure — lower numbers are reclaimed first, the same
// sense spec.md's scheduling priorities already use elsewhere in this
// tree.
type Cache struct {
	Name     string
	ObjSize  uintptr
	Align    uintptr
	Priority int

	ctor, dtor func(uintptr)

	vr       *VirtRange
	slabSize uintptr

	mu               sync.Mutex
	full, partial, empty []*slab
	owner            map[uintptr]*slab // object addr -> its slab, for Free

	mags []magazine // one per CPU
	next uint64     // round-robin counter picking a CPU for callers that don't know their own
}

// NewCache creates a slab cache drawing its slabs from vr. ncpu sizes the
// per-CPU magazine array; ctor/dtor may be nil.
func NewCache(vr *VirtRange, name string, objSize, align uintptr, ncpu int, priority int, ctor, dtor func(uintptr)) *Cache {
	if objSize == 0 {
		panic("kheap: zero-sized slab cache")
	}
	if align == 0 {
		align = 8
	}
	objSize = roundUp(objSize, align)

	slabSize := roundUp(objSize*8, uintptr(defs.PageSize))
	if slabSize < uintptr(defs.PageSize) {
		slabSize = uintptr(defs.PageSize)
	}

	return &Cache{
		Name:     name,
		ObjSize:  objSize,
		Align:    align,
		Priority: priority,
		ctor:     ctor,
		dtor:     dtor,
		vr:       vr,
		slabSize: slabSize,
		owner:    make(map[uintptr]*slab),
		mags:     make([]magazine, ncpu),
	}
}

// growSlab reserves a fresh slab from the virtual-range allocator and
// carves it into ObjSize objects, all initially free.
func (c *Cache) growSlab(flags Flags) (*slab, defs.Err_t) {
	base, err := c.vr.Reserve(c.slabSize, flags)
	if err != defs.EOK {
		return nil, err
	}
	n := int(c.slabSize / c.ObjSize)
	s := &slab{base: base, free: make([]uintptr, 0, n)}
	for i := 0; i < n; i++ {
		s.free = append(s.free, base+uintptr(i)*c.ObjSize)
	}
	return s, defs.EOK
}

// takeFromSlabs pops one object off the partial list, falling back to
// empty (promoting it to partial) and finally to growing a new slab.
// Must be called with c.mu held.
func (c *Cache) takeFromSlabs(flags Flags) (uintptr, defs.Err_t) {
	var s *slab
	if n := len(c.partial); n > 0 {
		s = c.partial[n-1]
	} else if n := len(c.empty); n > 0 {
		s = c.empty[n-1]
		c.empty = c.empty[:n-1]
		c.partial = append(c.partial, s)
	} else {
		grown, err := c.growSlab(flags)
		if err != defs.EOK {
			return 0, err
		}
		s = grown
		c.partial = append(c.partial, s)
	}

	addr := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.inuse++
	c.owner[addr] = s
	if s.full() {
		c.moveSlab(s, &c.partial, &c.full)
	}
	return addr, defs.EOK
}

// moveSlab relocates s from one of the cache's tracking lists to
// another, used when a slab crosses the partial/full/empty boundary.
func (c *Cache) moveSlab(s *slab, from, to *[]*slab) {
	for i, cand := range *from {
		if cand == s {
			*from = append((*from)[:i], (*from)[i+1:]...)
			break
		}
	}
	*to = append(*to, s)
}

// cpuFor picks a magazine index round-robin for a caller that has no
// notion of its own CPU id.
func (c *Cache) cpuFor() int {
	if len(c.mags) == 0 {
		return 0
	}
	n := atomic.AddUint64(&c.next, 1)
	return int(n % uint64(len(c.mags)))
}

// Alloc returns one object from the cache, checking cpu's magazine
// before falling through to the locked slab lists.
func (c *Cache) Alloc(cpu int, flags Flags) (uintptr, defs.Err_t) {
	if cpu < 0 || cpu >= len(c.mags) {
		cpu = c.cpuFor()
	}
	m := &c.mags[cpu]
	m.mu.Lock()
	if n := len(m.objs); n > 0 {
		addr := m.objs[n-1]
		m.objs = m.objs[:n-1]
		m.mu.Unlock()
		if c.ctor != nil {
			c.ctor(addr)
		}
		return addr, defs.EOK
	}
	m.mu.Unlock()

	c.mu.Lock()
	addr, err := c.takeFromSlabs(flags)
	c.mu.Unlock()
	if err != defs.EOK {
		return 0, err
	}
	if c.ctor != nil {
		c.ctor(addr)
	}
	return addr, defs.EOK
}

// Free returns an object to the cache, preferring cpu's magazine and
// returning just this object to its slab on the locked lists only when
// that magazine is full.
func (c *Cache) Free(cpu int, addr uintptr) {
	if c.dtor != nil {
		c.dtor(addr)
	}
	if cpu < 0 || cpu >= len(c.mags) {
		cpu = c.cpuFor()
	}
	m := &c.mags[cpu]
	m.mu.Lock()
	if len(m.objs) < magazineCapacity {
		m.objs = append(m.objs, addr)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	c.returnToSlab(addr)
}

// returnToSlab places addr back on its owning slab's free list, moving
// the slab between the full/partial/empty tracking lists as its
// occupancy changes.
func (c *Cache) returnToSlab(addr uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.owner[addr]
	if !ok {
		panic("kheap: free of address this cache never allocated")
	}
	delete(c.owner, addr)

	wasFull := s.full()
	s.free = append(s.free, addr)
	s.inuse--
	if wasFull {
		c.moveSlab(s, &c.full, &c.partial)
	}
	if s.empty() {
		c.moveSlab(s, &c.partial, &c.empty)
	}
}

// drainMagazines empties every per-CPU magazine back into its objects'
// owning slabs, so a cache sitting idle with warm magazines still shows
// up as reclaimable: without this, objects parked in a magazine would
// keep their slab permanently "partial" from Reclaim's point of view.
func (c *Cache) drainMagazines() {
	for i := range c.mags {
		m := &c.mags[i]
		m.mu.Lock()
		drained := m.objs
		m.objs = nil
		m.mu.Unlock()
		for _, addr := range drained {
			c.returnToSlab(addr)
		}
	}
}

// Reclaim releases every currently-empty slab back to the virtual-range
// allocator, returning how many bytes were freed. A reclaim daemon calls
// this across every registered cache in ascending Priority order when
// memory is tight.
func (c *Cache) Reclaim() uintptr {
	c.drainMagazines()

	c.mu.Lock()
	victims := c.empty
	c.empty = nil
	c.mu.Unlock()

	for _, s := range victims {
		c.vr.Release(s.base)
	}
	return uintptr(len(victims)) * c.slabSize
}

// Heap is the general-purpose kmalloc/kfree entry point (spec.md §4.3):
// it dispatches to a size-classed Cache, falling through to the
// virtual-range allocator directly for anything larger than the biggest
// class.
type Heap struct {
	vr      *VirtRange
	classes []uintptr
	caches  []*Cache

	mu    sync.Mutex
	large map[uintptr]uintptr // address -> size, for allocations bypassing every Cache
}

// defaultClasses are the size classes every Heap is seeded with, the
// doubling series a slab allocator conventionally uses up to the point a
// single object would otherwise waste most of a slab.
var defaultClasses = []uintptr{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// NewHeap builds the kernel heap over a fresh VirtRange spanning
// [defs.KernelHeapBase, defs.KernelHeapBase+windowSize), with one Cache
// per entry in defaultClasses.
func NewHeap(as *vmm.AddressSpace, phys *mem.Allocator, windowSize uintptr, ncpu int) *Heap {
	vr := NewVirtRange(as, phys, defs.KernelHeapBase, windowSize, uintptr(defs.PageSize))
	h := &Heap{
		vr:      vr,
		classes: defaultClasses,
		caches:  make([]*Cache, len(defaultClasses)),
		large:   make(map[uintptr]uintptr),
	}
	for i, size := range defaultClasses {
		h.caches[i] = NewCache(vr, classCacheName(size), size, 0, ncpu, 0, nil, nil)
	}
	return h
}

func classCacheName(size uintptr) string {
	return "kmalloc-" + itoa(size)
}

func itoa(n uintptr) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// cacheFor returns the smallest size class able to satisfy size, or nil
// if size exceeds every class and must go straight to the range
// allocator.
func (h *Heap) cacheFor(size uintptr) *Cache {
	i := sort.Search(len(h.classes), func(i int) bool { return h.classes[i] >= size })
	if i == len(h.classes) {
		return nil
	}
	return h.caches[i]
}

// Kmalloc allocates size bytes (spec.md §4.3). A zero-sized request is a
// programmer error and panics; cpu, if non-negative, names the caller's
// CPU so its magazine is used directly instead of round-robin-picked.
func (h *Heap) Kmalloc(size uintptr, flags Flags, cpu int) (uintptr, defs.Err_t) {
	if size == 0 {
		panic("kheap: zero-sized allocation")
	}

	if c := h.cacheFor(size); c != nil {
		return c.Alloc(cpu, flags)
	}

	addr, err := h.vr.Reserve(size, flags)
	if err != defs.EOK {
		return 0, err
	}
	h.mu.Lock()
	h.large[addr] = size
	h.mu.Unlock()
	return addr, defs.EOK
}

// Kfree releases an address obtained from Kmalloc.
func (h *Heap) Kfree(addr uintptr, cpu int) {
	h.mu.Lock()
	if _, ok := h.large[addr]; ok {
		delete(h.large, addr)
		h.mu.Unlock()
		h.vr.Release(addr)
		return
	}
	h.mu.Unlock()

	for _, c := range h.caches {
		c.mu.Lock()
		_, owned := c.owner[addr]
		c.mu.Unlock()
		if owned {
			c.Free(cpu, addr)
			return
		}
	}
	panic("kheap: free of address this heap never allocated")
}

// Reclaim runs every cache's Reclaim in ascending Priority order,
// returning the total bytes released back to the virtual-range
// allocator.
func (h *Heap) Reclaim() uintptr {
	ordered := make([]*Cache, len(h.caches))
	copy(ordered, h.caches)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var total uintptr
	for _, c := range ordered {
		total += c.Reclaim()
	}
	return total
}
