// Package planner groups the modules of a build into output chunks.
//
// Every entry gets its own chunk. Every dynamic reference target gets an on-demand
// chunk holding whatever is reachable only through it. Modules shared by enough
// entries or split points move into cache group chunks (vendors before common, by
// priority), and the module loader bookkeeping lives in a separate runtime chunk.
// Along any single execution path a module is loaded exactly once.
package planner

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/chunkplan/internal/graph"
)

// DefaultMinChunks is the number of distinct split points that must share a
// module before a cache group picks it up, unless the group overrides it.
const DefaultMinChunks = 2

// Applicability restricts which split points a cache group counts.
type Applicability string

const (
	// ChunksAll counts entries and dynamic split points.
	ChunksAll Applicability = "all"
	// ChunksInitial counts entries only.
	ChunksInitial Applicability = "initial"
	// ChunksAsync counts dynamic split points only.
	ChunksAsync Applicability = "async"
)

// RuntimeMode controls how the runtime chunk is split out.
type RuntimeMode string

const (
	// RuntimeSingle emits one runtime chunk shared by all entries.
	RuntimeSingle RuntimeMode = "single"
	// RuntimeMultiple emits one runtime chunk per entry.
	RuntimeMultiple RuntimeMode = "multiple"
	// RuntimeNone keeps the runtime inside each entry chunk.
	RuntimeNone RuntimeMode = "none"
)

// RuntimeChunkName is the name of the chunk emitted with RuntimeSingle.
const RuntimeChunkName = "runtime"

// CacheGroup extracts shared modules into a named chunk.
type CacheGroup struct {
	Name string
	// Priority orders groups, higher first. Ties keep declaration order.
	Priority int
	// MinSize is the minimum total size in bytes for the group chunk to be created.
	MinSize int
	// MinChunks is the minimum number of split points sharing a module. Zero means DefaultMinChunks.
	MinChunks int
	// Test selects modules by path. Nil selects every module.
	Test   func(path string) bool
	Chunks Applicability
}

func (c *CacheGroup) minChunks() int {
	if c.MinChunks <= 0 {
		return DefaultMinChunks
	}
	return c.MinChunks
}

func (c *CacheGroup) matches(p string) bool {
	return c.Test == nil || c.Test(p)
}

// Options configures planning.
type Options struct {
	CacheGroups []CacheGroup
	Runtime     RuntimeMode
	// StrictCycles makes Build fail on ErrCyclicHardDependency instead of merging.
	StrictCycles bool
}

// Entry is a named root module.
type Entry struct {
	Name string
	Path string
}

// ChunkKind classifies chunks.
type ChunkKind string

const (
	KindRuntime ChunkKind = "runtime"
	KindShared  ChunkKind = "shared"
	KindEntry   ChunkKind = "entry"
	KindAsync   ChunkKind = "async"
)

// Chunk is one planned output artifact.
type Chunk struct {
	Name string
	Kind ChunkKind
	// Modules holds member module paths, sorted.
	Modules []string
	// Root is the module executed when an entry or async chunk loads.
	Root string
	// Dependencies are chunks that must be loaded before this one, in load order.
	Dependencies []string
	// Priority of the cache group for shared chunks.
	Priority int
}

// Plan is the result of chunk planning.
type Plan struct {
	Chunks []*Chunk
	// Diagnostics holds recovered problems such as merged cycles.
	Diagnostics []error
	// AsyncTargets maps each dynamic reference target to its on-demand chunk. An
	// empty name means the target is always already loaded where it is referenced.
	AsyncTargets map[string]string

	byName map[string]*Chunk
}

// Chunk returns the chunk with the given name.
func (p *Plan) Chunk(name string) (*Chunk, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// ChunksOf returns the names of every chunk containing module.
func (p *Plan) ChunksOf(module string) []string {
	module = graph.Normalize(module)
	var names []string
	for _, c := range p.Chunks {
		if _, ok := slices.BinarySearch(c.Modules, module); ok {
			names = append(names, c.Name)
		}
	}
	return names
}

// LoadOrder returns the chunks a page loading the given entry chunks must include,
// in dependency order: runtime, shared chunks by priority, then the entries in the
// order given. On-demand chunks are never part of it.
func (p *Plan) LoadOrder(entries ...string) ([]string, error) {
	var (
		runtimes []string
		shared   []*Chunk
		seen     = make(map[string]bool)
	)

	for _, name := range entries {
		c, ok := p.byName[name]
		if !ok || c.Kind != KindEntry {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, name)
		}
		for _, dep := range c.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			d := p.byName[dep]
			switch d.Kind {
			case KindRuntime:
				runtimes = append(runtimes, dep)
			case KindShared:
				shared = append(shared, d)
			}
		}
	}

	slices.SortStableFunc(shared, func(a, b *Chunk) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	order := append([]string(nil), runtimes...)
	for _, c := range shared {
		order = append(order, c.Name)
	}
	for _, name := range entries {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	return order, nil
}

type unit struct {
	members []string
	size    int
	succ    []int
	dynamic []string
}

type splitPoint struct {
	name    string
	kind    ChunkKind
	root    string
	closure map[int]bool
	parents []int
}

type planner struct {
	g       *graph.Graph
	opts    Options
	groups  []CacheGroup
	units   []unit
	unitOf  map[string]int
	points  []*splitPoint
	asyncOf map[string]int
	names   map[string]bool
}

// Build groups the modules reachable from entries into chunks.
func Build(entries []Entry, g *graph.Graph, opts Options) (*Plan, error) {
	if opts.Runtime == "" {
		opts.Runtime = RuntimeSingle
	}

	p := &planner{
		g:       g,
		opts:    opts,
		unitOf:  make(map[string]int),
		asyncOf: make(map[string]int),
		names:   make(map[string]bool),
	}

	p.groups = append([]CacheGroup(nil), opts.CacheGroups...)
	slices.SortStableFunc(p.groups, func(a, b CacheGroup) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	if err := p.reserveNames(entries); err != nil {
		return nil, err
	}

	p.buildUnits()

	if err := p.discover(entries); err != nil {
		return nil, err
	}

	avail := p.availability()

	effective := make([]map[int]bool, len(p.points))
	owners := make(map[int][]int)
	for i, sp := range p.points {
		effective[i] = make(map[int]bool)
		for u := range sp.closure {
			if avail[i][u] {
				continue
			}
			effective[i][u] = true
			owners[u] = append(owners[u], i)
		}
	}

	assigned := p.assignGroups(owners)
	implicit := p.extractOnPathDuplicates(owners, assigned)

	plan := p.assemble(effective, assigned, implicit)

	diags, err := p.checkCycles(plan, owners)
	if err != nil {
		return nil, err
	}
	plan.Diagnostics = diags

	log.Debug().
		Int("modules", g.Len()).
		Int("chunks", len(plan.Chunks)).
		Int("diagnostics", len(diags)).
		Msg("planned chunks")

	return plan, nil
}

func (p *planner) reserveNames(entries []Entry) error {
	reserve := func(name string) error {
		if p.names[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateChunkName, name)
		}
		p.names[name] = true
		return nil
	}

	for _, grp := range p.groups {
		if err := reserve(grp.Name); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := reserve(e.Name); err != nil {
			return err
		}
		if p.opts.Runtime == RuntimeMultiple {
			if err := reserve(RuntimeChunkName + "~" + e.Name); err != nil {
				return err
			}
		}
	}
	if p.opts.Runtime == RuntimeSingle {
		if err := reserve(RuntimeChunkName); err != nil {
			return err
		}
	}
	return nil
}

// buildUnits collapses static cycles so each strongly connected component is
// planned as a single unit.
func (p *planner) buildUnits() {
	for _, component := range p.g.StronglyConnected() {
		idx := len(p.units)
		u := unit{members: component}
		for _, member := range component {
			p.unitOf[member] = idx
			if m, ok := p.g.Module(member); ok {
				u.size += m.Size
			}
		}
		p.units = append(p.units, u)
	}

	for i := range p.units {
		u := &p.units[i]
		for _, member := range u.members {
			for _, ref := range p.g.StaticReferences(member) {
				if t := p.unitOf[ref]; t != i && !slices.Contains(u.succ, t) {
					u.succ = append(u.succ, t)
				}
			}
			for _, ref := range p.g.DynamicReferences(member) {
				if !slices.Contains(u.dynamic, ref) {
					u.dynamic = append(u.dynamic, ref)
				}
			}
		}
	}
}

func (p *planner) closure(root int) map[int]bool {
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, next := range p.units[u].succ {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// discover creates a split point per entry and per dynamic reference target.
func (p *planner) discover(entries []Entry) error {
	for _, e := range entries {
		m, ok := p.g.Module(e.Path)
		if !ok {
			return fmt.Errorf("%w: %s (%s is not in the module graph)", ErrUnknownEntry, e.Name, e.Path)
		}
		p.points = append(p.points, &splitPoint{
			name:    e.Name,
			kind:    KindEntry,
			root:    m.Path,
			closure: p.closure(p.unitOf[m.Path]),
		})
	}

	for i := 0; i < len(p.points); i++ {
		sp := p.points[i]
		for _, u := range sortedKeys(sp.closure) {
			for _, target := range p.units[u].dynamic {
				idx, ok := p.asyncOf[target]
				if !ok {
					idx = len(p.points)
					p.asyncOf[target] = idx
					p.points = append(p.points, &splitPoint{
						name:    p.asyncName(target),
						kind:    KindAsync,
						root:    target,
						closure: p.closure(p.unitOf[target]),
					})
				}
				async := p.points[idx]
				if !slices.Contains(async.parents, i) {
					async.parents = append(async.parents, i)
				}
			}
		}
	}
	return nil
}

func (p *planner) asyncName(target string) string {
	base := path.Base(target)
	stem := strings.TrimSuffix(base, path.Ext(base))

	candidates := []string{stem, sanitize(strings.TrimSuffix(target, path.Ext(target)))}
	for _, name := range candidates {
		if name != "" && !p.names[name] {
			p.names[name] = true
			return name
		}
	}

	for n := 2; ; n++ {
		name := fmt.Sprintf("%s-%d", candidates[1], n)
		if !p.names[name] {
			p.names[name] = true
			return name
		}
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// availability computes, per split point, the units already loaded whenever it
// loads: nothing for entries, and for on-demand split points the units loaded by
// every parent. Sets only shrink between iterations, so the loop terminates.
func (p *planner) availability() []map[int]bool {
	avail := make([]map[int]bool, len(p.points))
	unknown := make([]bool, len(p.points))
	for i, sp := range p.points {
		if sp.kind == KindAsync {
			unknown[i] = true
		} else {
			avail[i] = map[int]bool{}
		}
	}

	for changed := true; changed; {
		changed = false
		for i, sp := range p.points {
			if sp.kind != KindAsync {
				continue
			}

			var next map[int]bool
			for _, parent := range sp.parents {
				if unknown[parent] {
					continue
				}
				loaded := maps.Clone(avail[parent])
				maps.Copy(loaded, p.points[parent].closure)
				if next == nil {
					next = loaded
					continue
				}
				for u := range next {
					if !loaded[u] {
						delete(next, u)
					}
				}
			}

			if next == nil {
				continue
			}
			if unknown[i] || !maps.Equal(next, avail[i]) {
				avail[i] = next
				unknown[i] = false
				changed = true
			}
		}
	}

	for i := range avail {
		if avail[i] == nil {
			avail[i] = map[int]bool{}
		}
	}
	return avail
}

func (p *planner) countOwners(owners []int, applies Applicability) int {
	n := 0
	for _, o := range owners {
		kind := p.points[o].kind
		switch applies {
		case ChunksInitial:
			if kind == KindEntry {
				n++
			}
		case ChunksAsync:
			if kind == KindAsync {
				n++
			}
		default:
			n++
		}
	}
	return n
}

func (p *planner) qualifies(grp *CacheGroup, module string, owners []int) bool {
	return grp.matches(module) && p.countOwners(owners, grp.Chunks) >= grp.minChunks()
}

// assignGroups walks cache groups by priority. A group whose candidates total
// less than MinSize is skipped and its candidates stay available to lower groups.
func (p *planner) assignGroups(owners map[int][]int) map[int]int {
	assigned := make(map[int]int)

	for gi := range p.groups {
		grp := &p.groups[gi]

		var (
			candidates []int
			total      int
		)
		for u := range p.units {
			if _, done := assigned[u]; done || len(owners[u]) == 0 {
				continue
			}
			if !p.qualifies(grp, p.units[u].members[0], owners[u]) {
				continue
			}
			candidates = append(candidates, u)
			total += p.units[u].size
		}

		if len(candidates) == 0 || total < grp.MinSize {
			continue
		}
		for _, u := range candidates {
			assigned[u] = gi
		}
	}

	return assigned
}

type implicitChunk struct {
	name   string
	owners []int
}

// extractOnPathDuplicates finds ungrouped units owned by two split points where
// one can load the other on demand, and moves each set of them into a chunk
// named after its owners. Without this an on-demand chunk with several parents
// would carry a second copy of a module one of its parents already loaded.
// Units shared only by unrelated split points (two entry pages) stay duplicated.
func (p *planner) extractOnPathDuplicates(owners map[int][]int, assigned map[int]int) map[int]*implicitChunk {
	ancestors := make([]map[int]bool, len(p.points))
	for i := range p.points {
		seen := make(map[int]bool)
		stack := append([]int(nil), p.points[i].parents...)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[cur] {
				continue
			}
			seen[cur] = true
			stack = append(stack, p.points[cur].parents...)
		}
		ancestors[i] = seen
	}

	onSamePath := func(set []int) bool {
		for _, a := range set {
			for _, b := range set {
				if a != b && ancestors[b][a] {
					return true
				}
			}
		}
		return false
	}

	byOwners := make(map[string]*implicitChunk)
	result := make(map[int]*implicitChunk)

	for u := range p.units {
		set := owners[u]
		if _, grouped := assigned[u]; grouped || len(set) < 2 || !onSamePath(set) {
			continue
		}

		sorted := slices.Clone(set)
		slices.Sort(sorted)
		parts := make([]string, len(sorted))
		for i, o := range sorted {
			parts[i] = p.points[o].name
		}
		key := strings.Join(parts, "~")

		ic, ok := byOwners[key]
		if !ok {
			name := key
			for n := 2; p.names[name]; n++ {
				name = fmt.Sprintf("%s-%d", key, n)
			}
			p.names[name] = true
			ic = &implicitChunk{name: name, owners: sorted}
			byOwners[key] = ic
		}
		result[u] = ic
	}

	return result
}

// checkCycles reports units whose members would have been grouped differently
// had the cycle not been collapsed, naming the chunks that hold the merged cycle.
func (p *planner) checkCycles(plan *Plan, owners map[int][]int) ([]error, error) {
	var diags []error

	for u, un := range p.units {
		if len(un.members) < 2 || len(owners[u]) == 0 {
			continue
		}

		destination := func(module string) int {
			for gi := range p.groups {
				if p.qualifies(&p.groups[gi], module, owners[u]) {
					return gi
				}
			}
			return -1
		}

		want := destination(un.members[0])
		split := false
		for _, member := range un.members[1:] {
			if destination(member) != want {
				split = true
				break
			}
		}
		if !split {
			continue
		}

		chunks := plan.ChunksOf(un.members[0])
		cycleErr := &CycleError{Modules: append([]string(nil), un.members...), Chunks: chunks}
		if p.opts.StrictCycles {
			return nil, cycleErr
		}

		log.Warn().Strs("modules", un.members).Strs("chunks", chunks).Msg("merged static import cycle")
		diags = append(diags, cycleErr)
	}

	return diags, nil
}

func (p *planner) assemble(effective []map[int]bool, assigned map[int]int, implicit map[int]*implicitChunk) *Plan {
	plan := &Plan{
		AsyncTargets: make(map[string]string),
		byName:       make(map[string]*Chunk),
	}

	groupChunks := make([]*Chunk, len(p.groups))
	for u, gi := range assigned {
		c := groupChunks[gi]
		if c == nil {
			c = &Chunk{Name: p.groups[gi].Name, Kind: KindShared, Priority: p.groups[gi].Priority}
			groupChunks[gi] = c
		}
		c.Modules = append(c.Modules, p.units[u].members...)
	}

	implicitChunks := make(map[*implicitChunk]*Chunk)
	for u, ic := range implicit {
		c := implicitChunks[ic]
		if c == nil {
			c = &Chunk{Name: ic.name, Kind: KindShared, Priority: math.MinInt32}
			implicitChunks[ic] = c
		}
		c.Modules = append(c.Modules, p.units[u].members...)
	}

	var runtimes, entries, asyncs []*Chunk

	if p.opts.Runtime == RuntimeSingle {
		runtimes = append(runtimes, &Chunk{Name: RuntimeChunkName, Kind: KindRuntime})
	}

	for i, sp := range p.points {
		c := &Chunk{Name: sp.name, Kind: sp.kind, Root: sp.root}

		usedGroups := make(map[int]bool)
		var usedImplicit []string
		for u := range effective[i] {
			if gi, ok := assigned[u]; ok {
				usedGroups[gi] = true
				continue
			}
			if ic, ok := implicit[u]; ok {
				if !slices.Contains(usedImplicit, ic.name) {
					usedImplicit = append(usedImplicit, ic.name)
				}
				continue
			}
			c.Modules = append(c.Modules, p.units[u].members...)
		}
		slices.Sort(usedImplicit)

		if sp.kind == KindEntry {
			switch p.opts.Runtime {
			case RuntimeSingle:
				c.Dependencies = append(c.Dependencies, RuntimeChunkName)
			case RuntimeMultiple:
				name := RuntimeChunkName + "~" + sp.name
				runtimes = append(runtimes, &Chunk{Name: name, Kind: KindRuntime})
				c.Dependencies = append(c.Dependencies, name)
			}
		}

		for gi := range p.groups {
			if usedGroups[gi] {
				c.Dependencies = append(c.Dependencies, p.groups[gi].Name)
			}
		}
		c.Dependencies = append(c.Dependencies, usedImplicit...)

		if sp.kind == KindAsync {
			if len(c.Modules) == 0 && len(c.Dependencies) == 0 {
				plan.AsyncTargets[sp.root] = ""
				continue
			}
			plan.AsyncTargets[sp.root] = sp.name
			asyncs = append(asyncs, c)
			continue
		}
		entries = append(entries, c)
	}

	slices.SortFunc(asyncs, func(a, b *Chunk) int {
		return strings.Compare(a.Name, b.Name)
	})

	plan.Chunks = append(plan.Chunks, runtimes...)
	for _, c := range groupChunks {
		if c != nil {
			plan.Chunks = append(plan.Chunks, c)
		}
	}
	var extra []*Chunk
	for _, c := range implicitChunks {
		extra = append(extra, c)
	}
	slices.SortFunc(extra, func(a, b *Chunk) int {
		return strings.Compare(a.Name, b.Name)
	})
	plan.Chunks = append(plan.Chunks, extra...)
	plan.Chunks = append(plan.Chunks, entries...)
	plan.Chunks = append(plan.Chunks, asyncs...)

	for _, c := range plan.Chunks {
		slices.Sort(c.Modules)
		plan.byName[c.Name] = c
	}

	return plan
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
