// Package solver implements dependency resolution (spec §4.8): a
// graph of recipes and packages, merged requirements per package
// name, satisfier discovery across an environment and repositories,
// version selection, and topological install ordering with cycle
// detection.
//
// The graph is an arena: nodes and requirement records live in flat
// structures addressed by integer index, and cross-references
// (dependents, satisfiers) are index sets. The solver exclusively
// owns the arena; objects are held by shared reference and outlive
// it.
package solver

import (
	"sort"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
)

// reqEdge is one requirement of one node, with the set of node
// indices currently known to satisfy it.
type reqEdge struct {
	req        ipkgversion.Requirement
	satisfiers map[int]bool
}

// node is one arena entry.
type node struct {
	obj       Object
	installed bool

	// requirements maps the canonical requirement string to its edge;
	// order preserves declaration order for deterministic traversal.
	requirements map[string]*reqEdge
	order        []string

	// dependents is the set of node indices that require this node.
	dependents map[int]bool
}

// solverRequirement aggregates every requester's requirement for one
// package name.
type solverRequirement struct {
	name       string
	merged     ipkgversion.Requirement
	hasMerged  bool
	requesters map[int]ipkgversion.Requirement
	satisfiers map[int]bool
}

// Solver holds the arena.
type Solver struct {
	nodes   []*node
	objects map[string]int
	reqs    map[string]*solverRequirement

	unsatisfied []ipkgversion.Requirement
	platform    platform.Platform
	log         ipkglog.Logger
}

// New returns an empty solver scoped to plat.
func New(plat platform.Platform, log ipkglog.Logger) *Solver {
	if log == nil {
		log = ipkglog.Default()
	}
	return &Solver{
		objects:  make(map[string]int),
		reqs:     make(map[string]*solverRequirement),
		platform: plat,
		log:      log,
	}
}

// Len returns the number of nodes in the arena.
func (s *Solver) Len() int { return len(s.nodes) }

// Unsatisfied returns the requirements discovery could not satisfy.
func (s *Solver) Unsatisfied() []ipkgversion.Requirement {
	return append([]ipkgversion.Requirement(nil), s.unsatisfied...)
}

// satisfies reports whether obj satisfies req: names equal, platforms
// compatible, version passes every constraint pair. Requirements
// carry a concrete platform by construction, so an unparseable one is
// a malformed requirement and satisfies nothing.
func (s *Solver) satisfies(req ipkgversion.Requirement, obj Object) bool {
	if req.Name != obj.Name() {
		return false
	}
	reqPlat, err := platform.Parse(req.Platform)
	if err != nil {
		return false
	}
	if !reqPlat.Compatible(obj.Platform()) {
		return false
	}
	return req.Satisfies(obj.Version())
}

// attach records satisfier as satisfying edge on requester.
func (s *Solver) attach(requester int, edge *reqEdge, satisfier int) {
	edge.satisfiers[satisfier] = true
	s.nodes[satisfier].dependents[requester] = true
	if sr := s.reqs[edge.req.Name]; sr != nil {
		sr.satisfiers[satisfier] = true
	}
}

// Add places obj in the arena. Unless skipDependencies is set (used
// for environment packages, whose dependencies the environment
// already resolved), every requirement of obj is merged into the
// per-name requirement record. Then, if requesters for obj's own name
// exist, each requester's original requirement is tested against obj
// and satisfied ones are linked up.
func (s *Solver) Add(obj Object, skipDependencies bool) (int, error) {
	id := obj.ID()
	if _, ok := s.objects[id]; ok {
		return 0, ipkgerr.New(ipkgerr.InvalidInput, "object %s was already added to the solver", id)
	}

	idx := len(s.nodes)
	n := &node{
		obj:          obj,
		requirements: make(map[string]*reqEdge),
		dependents:   make(map[int]bool),
	}
	if po, ok := obj.(PackageObject); ok && po.FromEnv {
		n.installed = true
	}
	s.nodes = append(s.nodes, n)
	s.objects[id] = idx

	if !skipDependencies {
		reqs, err := obj.Requirements()
		if err != nil {
			return 0, err
		}
		for _, req := range reqs {
			key := req.String()
			if _, ok := n.requirements[key]; ok {
				continue
			}
			edge := &reqEdge{req: req, satisfiers: make(map[int]bool)}
			n.requirements[key] = edge
			n.order = append(n.order, key)

			sr := s.reqs[req.Name]
			if sr == nil {
				sr = &solverRequirement{
					name:       req.Name,
					requesters: make(map[int]ipkgversion.Requirement),
					satisfiers: make(map[int]bool),
				}
				s.reqs[req.Name] = sr
			}
			if sr.hasMerged {
				merged, err := sr.merged.Merge(req)
				if err != nil {
					return 0, err
				}
				sr.merged = merged
			} else {
				sr.merged = req
				sr.hasMerged = true
			}
			sr.requesters[idx] = req

			// Known satisfiers of this name attach to the new
			// requester right away.
			for sidx := range sr.satisfiers {
				if s.satisfies(req, s.nodes[sidx].obj) {
					s.attach(idx, edge, sidx)
				}
			}
		}
	}

	// The new object may itself satisfy requirements recorded before
	// it arrived.
	if sr := s.reqs[obj.Name()]; sr != nil {
		for ridx, origReq := range sr.requesters {
			if ridx == idx {
				continue
			}
			if s.satisfies(origReq, obj) {
				s.attach(ridx, s.nodes[ridx].requirements[origReq.String()], idx)
			}
		}
	}

	return idx, nil
}

type workItem struct {
	node int
	key  string
}

// FromObject seeds a solver with root and resolves its requirement
// closure: installed packages first (their dependencies count as
// resolved by the environment), then the given sources, whose hits
// are added along with their own requirements. Requirements with no
// satisfier anywhere are recorded as unsatisfied, not fatal.
func FromObject(root Object, installed []pkgartifact.Meta, sources []Source, plat platform.Platform, log ipkglog.Logger) (*Solver, error) {
	s := New(plat, log)
	rootIdx, err := s.Add(root, false)
	if err != nil {
		return nil, err
	}

	var queue []workItem
	enqueue := func(idx int) {
		for _, key := range s.nodes[idx].order {
			queue = append(queue, workItem{node: idx, key: key})
		}
	}
	enqueue(rootIdx)

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		edge := s.nodes[item.node].requirements[item.key]
		if len(edge.satisfiers) > 0 {
			continue
		}
		req := edge.req
		sr := s.reqs[req.Name]

		// Known satisfiers of the name attach directly.
		if len(sr.satisfiers) > 0 {
			attached := false
			for sidx := range sr.satisfiers {
				if s.satisfies(req, s.nodes[sidx].obj) {
					s.attach(item.node, edge, sidx)
					attached = true
				}
			}
			if attached {
				continue
			}
		}

		// The environment's installed packages: first match wins and
		// its dependencies are not enqueued.
		if found, err := s.addInstalledMatch(item.node, edge, installed); err != nil {
			return nil, err
		} else if found {
			continue
		}

		// The repositories: every hit joins the graph with its own
		// requirements enqueued.
		found := false
		for _, src := range sources {
			hits, err := src.FindObjects(sr.merged)
			if err != nil {
				return nil, err
			}
			for _, hit := range hits {
				if eidx, ok := s.objects[hit.ID()]; ok {
					if s.satisfies(req, s.nodes[eidx].obj) {
						s.attach(item.node, edge, eidx)
						found = true
					}
					continue
				}
				hidx, err := s.Add(hit, false)
				if err != nil {
					return nil, err
				}
				enqueue(hidx)
				found = true
			}
		}
		if found {
			continue
		}

		s.log.Debug("requirement unsatisfied", "requirement", req.String())
		s.unsatisfied = append(s.unsatisfied, req)
	}

	return s, nil
}

func (s *Solver) addInstalledMatch(requester int, edge *reqEdge, installed []pkgartifact.Meta) (bool, error) {
	for _, m := range installed {
		obj := PackageObject{Meta: m, FromEnv: true}
		if !s.satisfies(edge.req, obj) {
			continue
		}
		if eidx, ok := s.objects[obj.ID()]; ok {
			s.attach(requester, edge, eidx)
			return true, nil
		}
		if _, err := s.Add(obj, true); err != nil {
			return false, err
		}
		// Add's name-check linked the new node to this requester.
		return true, nil
	}
	return false, nil
}

// FindBestDependencies walks the requirements reachable from target,
// picking one satisfier per requirement name with sel (default
// HighestVersion). A reachable requirement with no satisfier fails
// the walk.
func (s *Solver) FindBestDependencies(target Object, sel Selector) (map[string]Object, error) {
	idx, ok := s.objects[target.ID()]
	if !ok {
		return nil, ipkgerr.New(ipkgerr.NotFound, "object %s is not in the solver", target.ID())
	}
	if sel == nil {
		sel = HighestVersion
	}

	result := make(map[string]Object)
	visited := map[int]bool{idx: true}
	queue := []int{idx}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := s.nodes[cur]
		for _, key := range n.order {
			edge := n.requirements[key]
			if len(edge.satisfiers) == 0 {
				return nil, ipkgerr.New(ipkgerr.NotFound, "no satisfier for requirement %s", edge.req.String())
			}
			chosen := sel(s.edgeObjects(edge))
			result[edge.req.Name] = chosen
			cidx := s.objects[chosen.ID()]
			if !visited[cidx] {
				visited[cidx] = true
				queue = append(queue, cidx)
			}
		}
	}
	return result, nil
}

// edgeObjects returns the satisfier objects of an edge in ascending
// node-index order.
func (s *Solver) edgeObjects(edge *reqEdge) []Object {
	idxs := make([]int, 0, len(edge.satisfiers))
	for sidx := range edge.satisfiers {
		idxs = append(idxs, sidx)
	}
	sort.Ints(idxs)
	objs := make([]Object, len(idxs))
	for i, sidx := range idxs {
		objs[i] = s.nodes[sidx].obj
	}
	return objs
}

// SolveOptions tunes Solve.
type SolveOptions struct {
	// Target restricts the solve to the closure of one object. Nil
	// solves the whole graph.
	Target Object

	// Selector picks among multiple satisfiers. Nil means
	// HighestVersion.
	Selector Selector

	// IgnoreInstalled omits environment packages from the result;
	// they still participate in ordering.
	IgnoreInstalled bool
}

// Solve emits a topological install order: dependencies before
// dependents. Roots are nodes with no dependents within scope; a
// scope with nodes but no root, or with residual unprocessed nodes at
// termination, is a Cycle.
func (s *Solver) Solve(opts SolveOptions) ([]Object, error) {
	sel := opts.Selector
	if sel == nil {
		sel = HighestVersion
	}

	// selectedDeps holds, per in-scope node, the chosen satisfier of
	// each of its requirements. Requirements without satisfiers are
	// skipped here; FromObject already recorded them as unsatisfied.
	selectedDeps := make(map[int][]int)
	selectFor := func(idx int) []int {
		if deps, ok := selectedDeps[idx]; ok {
			return deps
		}
		var deps []int
		n := s.nodes[idx]
		for _, key := range n.order {
			edge := n.requirements[key]
			if len(edge.satisfiers) == 0 {
				continue
			}
			chosen := sel(s.edgeObjects(edge))
			deps = append(deps, s.objects[chosen.ID()])
		}
		selectedDeps[idx] = deps
		return deps
	}

	include := make(map[int]bool)
	if opts.Target != nil {
		idx, ok := s.objects[opts.Target.ID()]
		if !ok {
			return nil, ipkgerr.New(ipkgerr.NotFound, "object %s is not in the solver", opts.Target.ID())
		}
		stack := []int{idx}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if include[cur] {
				continue
			}
			include[cur] = true
			stack = append(stack, selectFor(cur)...)
		}
	} else {
		for idx := range s.nodes {
			include[idx] = true
		}
	}

	// pending counts, per node, how many in-scope dependents selected
	// it; a node is ready once that count reaches zero.
	pending := make(map[int]int, len(include))
	for idx := range include {
		if _, ok := pending[idx]; !ok {
			pending[idx] = 0
		}
		for _, dep := range selectFor(idx) {
			pending[dep]++
		}
	}

	var ready []int
	for idx := range include {
		if pending[idx] == 0 {
			ready = append(ready, idx)
		}
	}
	if len(ready) == 0 && len(include) > 0 {
		return nil, ipkgerr.New(ipkgerr.Cycle, "dependency graph has no root: every node has a dependent")
	}

	var processed []int
	for len(ready) > 0 {
		sort.Ints(ready)
		cur := ready[0]
		ready = ready[1:]
		processed = append(processed, cur)
		for _, dep := range selectFor(cur) {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(processed) < len(include) {
		return nil, ipkgerr.New(ipkgerr.Cycle,
			"dependency cycle detected: %d of %d nodes have unmet dependents", len(include)-len(processed), len(include))
	}

	// Reverse: dependencies first.
	var result []Object
	for i := len(processed) - 1; i >= 0; i-- {
		n := s.nodes[processed[i]]
		if opts.IgnoreInstalled && n.installed {
			continue
		}
		result = append(result, n.obj)
	}
	return result, nil
}
