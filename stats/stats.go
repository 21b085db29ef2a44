// Package stats implements the kernel-statistics counters spec.md's
// ambient diagnostics require, kept from Biscuit's stats/stats.go and
// adapted from its forked-runtime runtime.Rdtsc() hack (unavailable in a
// stock Go toolchain) to corvid/arch.Arch.ReadTSC, the architecture
// abstraction's own cycle-counter accessor. Profile reports are exported
// through the D_PROF pseudo-device in github.com/google/pprof/profile's
// wire format so an external profiler can consume them without a
// kernel-specific parser.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/pprof/profile"

	"corvid/arch"
)

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

// CPU is the architecture abstraction Rdtsc reads the cycle counter
// through, bound once at boot the same way corvid/ksync.CPU is.
var CPU arch.Arch

// Rdtsc returns the current cycle count when enabled, or 0 when Stats is
// false — compiled out of the hot path the same way Biscuit's build-time
// constant does, just checked at runtime instead of erased by the
// compiler.
func Rdtsc() uint64 {
	if Stats && CPU != nil {
		return CPU.ReadTSC()
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds a cycle count.
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

// ToProfile walks a struct of Counter_t/Cycles_t fields the same way
// Stats2String does, but emits a pprof sample instead of a debug string —
// the D_PROF device's payload, letting an operator open the kernel's
// counters in a standard profiling viewer instead of a kernel-specific
// console dump.
func ToProfile(st interface{}) *profile.Profile {
	v := reflect.ValueOf(st)
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	loc := &profile.Location{ID: 1}
	p.Location = []*profile.Location{loc}

	for i := 0; i < v.NumField(); i++ {
		ft := v.Field(i).Type().String()
		var val int64
		switch {
		case strings.HasSuffix(ft, "Counter_t"):
			val = int64(v.Field(i).Interface().(Counter_t))
		case strings.HasSuffix(ft, "Cycles_t"):
			val = int64(v.Field(i).Interface().(Cycles_t))
		default:
			continue
		}
		fn := &profile.Function{ID: uint64(len(p.Function) + 1), Name: v.Type().Field(i).Name}
		p.Function = append(p.Function, fn)
		loc.Line = append(loc.Line, profile.Line{Function: fn})
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{val},
			Label:    map[string][]string{"counter": {v.Type().Field(i).Name}},
		})
	}
	return p
}
