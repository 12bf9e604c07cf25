// Package topology classifies cores at initialization time and derives the
// read-mostly core sets the scheduler biases its decisions with: per-core
// SMT sibling groups, cache/cluster groups, performance/efficiency masks and
// the outward tier masks pull balancing walks. Classification is built once
// from a boot-time description and changes only on core online/offline.
package topology

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bitrunq/bitrunq/model/cpuset"
)

// Kind tags a core's class.
type Kind int

const (
	KindDefault Kind = iota
	KindSMT
	KindPerformance
	KindEfficiency
)

// String returns the tag name.
func (k Kind) String() string {
	switch k {
	case KindSMT:
		return "smt"
	case KindPerformance:
		return "pcore"
	case KindEfficiency:
		return "ecore"
	}
	return "default"
}

// BalanceKind selects the active-balance callback a core runs when it goes
// idle. BalanceNone means the core relies on pull balancing alone.
type BalanceKind int

const (
	BalanceNone BalanceKind = iota
	BalanceSMT
	BalanceSMTPCore
	BalancePCore
	BalanceECore
)

// MaskKind names one of the scheduler's shared idle masks; IdleMaskOrder
// returns them in the order wake-time core selection should consult them.
type MaskKind int

const (
	// MaskSGIdle is the set of cores whose whole SMT group is idle.
	MaskSGIdle MaskKind = iota
	// MaskPCoreIdle is the set of idle performance cores.
	MaskPCoreIdle
	// MaskECoreIdle is the set of idle efficiency cores.
	MaskECoreIdle
	// MaskIdle is the set of all idle cores.
	MaskIdle
)

// Config mirrors the YAML topology description. All cpu lists use kernel
// cpu-list syntax ("0-3,8").
type Config struct {
	Cores     int      `yaml:"cores"`
	PCores    string   `yaml:"pcore_cpus"`
	SMTGroups []string `yaml:"smt_groups"`
	LLCGroups []string `yaml:"llc_groups"`
}

// Topology is the immutable result of classification.
type Topology struct {
	numCores int
	all      cpuset.Set

	kind    []Kind
	balance []BalanceKind

	pcore cpuset.Set
	ecore cpuset.Set
	smt   cpuset.Set

	smtGroup []cpuset.Set
	llcGroup []cpuset.Set
	tiers    [][]cpuset.Set

	idleOrder []MaskKind
}

// Default returns the no-tiers topology: every core in its own SMT group,
// one cache domain spanning all cores.
func Default(cores int) *Topology {
	t, err := New(Config{Cores: cores})
	if err != nil {
		// A cores-only config cannot fail validation.
		panic(fmt.Sprintf("topology: default build failed: %v", err))
	}
	return t
}

// Load reads a YAML topology description. A missing, malformed or
// inconsistent description falls back to the default classification rather
// than failing initialization.
func Load(path string, cores int) *Topology {
	if path == "" {
		return Default(cores)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("topology: %v, using default classification", err)
		return Default(cores)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("topology: %v, using default classification", err)
		return Default(cores)
	}
	if cfg.Cores == 0 {
		cfg.Cores = cores
	}
	t, err := New(cfg)
	if err != nil {
		log.Printf("topology: %v, using default classification", err)
		return Default(cores)
	}
	return t
}

// New builds a topology from a description. It returns an error when the
// description is malformed; callers that must not fail use Load or Default.
func New(cfg Config) (*Topology, error) {
	if cfg.Cores <= 0 || cfg.Cores > cpuset.MaxCPUs {
		return nil, fmt.Errorf("topology: core count %d out of range", cfg.Cores)
	}
	t := &Topology{
		numCores:  cfg.Cores,
		all:       cpuset.Range(0, cfg.Cores-1),
		kind:      make([]Kind, cfg.Cores),
		balance:   make([]BalanceKind, cfg.Cores),
		smtGroup:  make([]cpuset.Set, cfg.Cores),
		llcGroup:  make([]cpuset.Set, cfg.Cores),
		tiers:     make([][]cpuset.Set, cfg.Cores),
		idleOrder: []MaskKind{MaskIdle},
	}

	var err error
	if t.pcore, err = t.parseGroup(cfg.PCores); err != nil {
		return nil, err
	}
	if !t.pcore.Empty() {
		t.ecore.AndNot(&t.all, &t.pcore)
	}

	for cpu := 0; cpu < cfg.Cores; cpu++ {
		t.smtGroup[cpu] = cpuset.OfCPUs(cpu)
		t.llcGroup[cpu] = t.all
	}
	for _, text := range cfg.SMTGroups {
		group, err := t.parseGroup(text)
		if err != nil {
			return nil, err
		}
		if group.Weight() > 1 {
			t.smt.Or(&t.smt, &group)
		}
		group.ForEach(func(cpu int) bool {
			t.smtGroup[cpu] = group
			return true
		})
	}
	for _, text := range cfg.LLCGroups {
		group, err := t.parseGroup(text)
		if err != nil {
			return nil, err
		}
		group.ForEach(func(cpu int) bool {
			t.llcGroup[cpu] = group
			return true
		})
	}

	t.classify()
	t.buildTiers()
	t.chooseIdleOrder()
	return t, nil
}

func (t *Topology) parseGroup(text string) (cpuset.Set, error) {
	group, err := cpuset.ParseList(text)
	if err != nil {
		return cpuset.Set{}, err
	}
	if !group.Subset(&t.all) {
		return cpuset.Set{}, fmt.Errorf("topology: cpu list %q exceeds %d cores", text, t.numCores)
	}
	return group, nil
}

func (t *Topology) classify() {
	ecorePresent := !t.ecore.Empty()
	for cpu := 0; cpu < t.numCores; cpu++ {
		switch {
		case t.smtGroup[cpu].Weight() > 1:
			t.kind[cpu] = KindSMT
			if t.pcore.Has(cpu) && !t.ecore.Intersects(&t.smt) {
				t.balance[cpu] = BalanceSMTPCore
			} else {
				t.balance[cpu] = BalanceSMT
			}
		case t.pcore.Has(cpu):
			t.kind[cpu] = KindPerformance
			if ecorePresent {
				t.balance[cpu] = BalancePCore
			}
		case t.ecore.Has(cpu):
			t.kind[cpu] = KindEfficiency
			if t.pcore.Intersects(&t.smt) {
				t.balance[cpu] = BalanceECore
			}
		default:
			t.kind[cpu] = KindDefault
		}
	}
}

// buildTiers computes each core's outward walk order: SMT siblings, then the
// cache/cluster group, then every core. Tiers that add no new cores are
// dropped.
func (t *Topology) buildTiers() {
	for cpu := 0; cpu < t.numCores; cpu++ {
		var tiers []cpuset.Set
		covered := cpuset.OfCPUs(cpu)
		for _, mask := range []cpuset.Set{t.smtGroup[cpu], t.llcGroup[cpu], t.all} {
			var next cpuset.Set
			if next.AndNot(&mask, &covered) {
				tiers = append(tiers, next)
				covered.Or(&covered, &mask)
			}
		}
		t.tiers[cpu] = tiers
	}
}

func (t *Topology) chooseIdleOrder() {
	switch {
	case !t.smt.Empty() && t.smt.Equal(&t.all):
		t.idleOrder = []MaskKind{MaskSGIdle, MaskIdle}
	case !t.pcore.Empty():
		t.idleOrder = []MaskKind{MaskPCoreIdle, MaskECoreIdle, MaskIdle}
	}
}

// NumCores returns the number of described cores.
func (t *Topology) NumCores() int { return t.numCores }

// Kind returns a core's classification tag.
func (t *Topology) Kind(cpu int) Kind { return t.kind[cpu] }

// Balance returns the active-balance callback kind a core should run.
func (t *Topology) Balance(cpu int) BalanceKind { return t.balance[cpu] }

// SMTGroup returns a core's sibling group, itself included.
func (t *Topology) SMTGroup(cpu int) cpuset.Set { return t.smtGroup[cpu] }

// LLCGroup returns the cores sharing a core's last-level cache.
func (t *Topology) LLCGroup(cpu int) cpuset.Set { return t.llcGroup[cpu] }

// Tiers returns a core's outward balance walk, nearest first.
func (t *Topology) Tiers(cpu int) []cpuset.Set { return t.tiers[cpu] }

// PCoreMask returns the performance cores.
func (t *Topology) PCoreMask() cpuset.Set { return t.pcore }

// ECoreMask returns the efficiency cores.
func (t *Topology) ECoreMask() cpuset.Set { return t.ecore }

// SMTMask returns every core with at least one sibling.
func (t *Topology) SMTMask() cpuset.Set { return t.smt }

// AllMask returns every described core.
func (t *Topology) AllMask() cpuset.Set { return t.all }

// IdleMaskOrder returns the idle masks wake-time selection consults, in
// topology order.
func (t *Topology) IdleMaskOrder() []MaskKind { return t.idleOrder }

// CacheShare reports whether two cores share a last-level cache. Wakeups
// crossing this boundary are handed off asynchronously instead of taking
// the remote queue lock.
func (t *Topology) CacheShare(a, b int) bool {
	if a == b {
		return true
	}
	return t.llcGroup[a].Has(b)
}
