package arch

import "sync"

// softContext is SoftArch's ThreadContext: just enough state to prove a
// switch occurred, since SoftArch never actually transfers a CPU register
// file.
type softContext struct {
	entry uintptr
	arg   uintptr
	dead  bool
}

// softTable is one simulated page-table root: a flat map from virtual
// page number to (physical page, protection, flags). It stands in for the
// radix/multilevel table spec.md §3 describes, which is enough to drive
// corvid/vmm's logic and test suite without real hardware.
type softTable struct {
	entries map[uintptr]softPTE
}

type softPTE struct {
	paddr uintptr
	prot  Protection
	flags MapFlags
}

// SoftArch is an in-memory Arch implementation used by tests and by any
// host tool (like cmd/gensyscall) that links against corvid/vmm or
// corvid/sched without a real boot environment. It is not a substitute for
// the native arch-specific implementation spec.md §1 calls out of scope;
// it exists purely so the core's logic is exercised by `go test`.
type SoftArch struct {
	mu      sync.Mutex
	tables  map[uintptr]*softTable
	nextTbl uintptr
	current uintptr
	tsc     uint64
	msrs    map[uint32]uint64
	irqOn   bool
}

// NewSoftArch returns a ready-to-use SoftArch with interrupts enabled.
func NewSoftArch() *SoftArch {
	return &SoftArch{
		tables: make(map[uintptr]*softTable),
		msrs:   make(map[uint32]uint64),
		irqOn:  true,
	}
}

// NewRoot allocates a fresh simulated page-table root and returns its
// opaque identifier, the SoftArch analogue of allocating a PML4 page.
func (s *SoftArch) NewRoot() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTbl++
	id := s.nextTbl
	s.tables[id] = &softTable{entries: make(map[uintptr]softPTE)}
	return id
}

func (s *SoftArch) ThreadInit(stack []byte, entry uintptr, arg uintptr) ThreadContext {
	return &softContext{entry: entry, arg: arg}
}

func (s *SoftArch) ThreadDestroy(ctx ThreadContext) {
	if c, ok := ctx.(*softContext); ok {
		c.dead = true
	}
}

func (s *SoftArch) ThreadSwitch(from, to ThreadContext) {}

func (s *SoftArch) EnterUserspace(entry, sp, arg uintptr) {
	panic("SoftArch cannot enter userspace")
}

func (s *SoftArch) ReadMSR(reg uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msrs[reg]
}

func (s *SoftArch) WriteMSR(reg uint32, val uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msrs[reg] = val
}

func (s *SoftArch) ReadTSC() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tsc++
	return s.tsc
}

func (s *SoftArch) CPUInit(cpuID int)          {}
func (s *SoftArch) SetupDescriptors(cpuID int) {}

func (s *SoftArch) table(root uintptr) *softTable {
	t, ok := s.tables[root]
	if !ok {
		panic("unknown page-table root")
	}
	return t
}

func (s *SoftArch) MapInsert(root uintptr, vaddr, paddr uintptr, prot Protection, flags MapFlags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(root)
	if _, exists := t.entries[vaddr]; exists {
		panic("map_insert over existing mapping")
	}
	t.entries[vaddr] = softPTE{paddr: paddr, prot: prot, flags: flags}
	return true
}

func (s *SoftArch) MapRemove(root uintptr, vaddr uintptr) (uintptr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(root)
	pte, ok := t.entries[vaddr]
	if !ok {
		return 0, false
	}
	delete(t.entries, vaddr)
	return pte.paddr, true
}

func (s *SoftArch) MapProtect(root uintptr, vaddr uintptr, prot Protection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(root)
	pte, ok := t.entries[vaddr]
	if !ok {
		return false
	}
	pte.prot = prot
	t.entries[vaddr] = pte
	return true
}

func (s *SoftArch) MapSwitch(root uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = root
}

func (s *SoftArch) Invlpg(vaddr uintptr) {}

func (s *SoftArch) SendIPI(cpuID int, vector IPIVector) {}

func (s *SoftArch) IRQDisable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.irqOn
	s.irqOn = false
	return prev
}

func (s *SoftArch) IRQRestore(prev bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqOn = prev
}

func (s *SoftArch) HasNX() bool      { return true }
func (s *SoftArch) HasRDRAND() bool  { return false }

// Lookup exposes the simulated page-table content for corvid/vmm's tests.
func (s *SoftArch) Lookup(root uintptr, vaddr uintptr) (uintptr, Protection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(root)
	pte, ok := t.entries[vaddr]
	return pte.paddr, pte.prot, ok
}
