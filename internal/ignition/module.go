// Package ignition declares contract deployments as a dependency graph.
//
// A Module is built once from a builder function. Each call to Contract
// declares a future: a contract that will have an address once deployed.
// Futures may be passed as constructor arguments to later futures; the
// deployer resolves them to addresses in dependency order.
package ignition

import (
	"container/heap"
	"math/big"
	"sort"
)

// ContractFuture is a contract deployment declared in a module.
type ContractFuture struct {
	id           string
	module       string
	contractName string
	args         []any
	after        []*ContractFuture
	value        *big.Int
	index        int
}

// ID returns the future ID in the form "<module>#<name>".
func (f *ContractFuture) ID() string { return f.id }

// Module returns the ID of the module that declared the future.
func (f *ContractFuture) Module() string { return f.module }

// ContractName returns the artifact name to deploy.
func (f *ContractFuture) ContractName() string { return f.contractName }

// Args returns the constructor arguments in order. Elements are either
// literal values or *ContractFuture references.
func (f *ContractFuture) Args() []any {
	out := make([]any, len(f.args))
	copy(out, f.args)
	return out
}

// Value returns the wei sent with the deployment, or nil.
func (f *ContractFuture) Value() *big.Int {
	if f.value == nil {
		return nil
	}
	return new(big.Int).Set(f.value)
}

// Dependencies returns the futures this one must wait for: argument
// references first, then explicit After entries, without duplicates.
func (f *ContractFuture) Dependencies() []*ContractFuture {
	var deps []*ContractFuture
	seen := make(map[*ContractFuture]struct{})
	add := func(d *ContractFuture) {
		if d == nil {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		deps = append(deps, d)
	}
	for _, a := range f.args {
		if ref, ok := a.(*ContractFuture); ok {
			add(ref)
		}
	}
	for _, d := range f.after {
		add(d)
	}
	return deps
}

// ContractOptions customises a contract declaration.
type ContractOptions struct {
	// ID overrides the name part of the future ID. Required when the same
	// contract is deployed twice in one module.
	ID string
	// Value is wei sent with the deployment transaction.
	Value *big.Int
	// After lists futures that must complete first without being arguments.
	After []*ContractFuture
}

// ModuleBuilder collects futures while a module function runs.
type ModuleBuilder struct {
	moduleID string
	futures  []*ContractFuture
	byID     map[string]*ContractFuture
	errs     []error
}

// Contract declares a deployment of the named artifact with constructor args.
func (m *ModuleBuilder) Contract(name string, args ...any) *ContractFuture {
	return m.ContractWithOptions(name, args, ContractOptions{})
}

// ContractWithOptions declares a deployment with explicit options.
func (m *ModuleBuilder) ContractWithOptions(name string, args []any, opts ContractOptions) *ContractFuture {
	local := name
	if opts.ID != "" {
		local = opts.ID
	}

	f := &ContractFuture{
		id:           m.moduleID + "#" + local,
		module:       m.moduleID,
		contractName: name,
		args:         append([]any(nil), args...),
		after:        append([]*ContractFuture(nil), opts.After...),
		index:        len(m.futures),
	}
	if opts.Value != nil {
		f.value = new(big.Int).Set(opts.Value)
	}

	if name == "" {
		m.errs = append(m.errs, invalidf(m.moduleID, "contract name is required"))
	}
	if _, exists := m.byID[f.id]; exists {
		m.errs = append(m.errs, invalidf(m.moduleID, "duplicate future ID %q", f.id))
	}

	m.byID[f.id] = f
	m.futures = append(m.futures, f)
	return f
}

// Results maps output names to futures returned by a module.
type Results map[string]*ContractFuture

// Module is an immutable, validated deployment graph.
type Module struct {
	id      string
	futures []*ContractFuture
	byID    map[string]*ContractFuture
	results Results
}

// BuildModule runs fn and validates the futures it declares.
//
// Validation rejects:
//   - an empty module ID or contract name
//   - duplicate future IDs
//   - nil constructor arguments
//   - dependencies that are not declared earlier in the same module
//   - results that are nil or belong to another module
func BuildModule(id string, fn func(m *ModuleBuilder) Results) (*Module, error) {
	if id == "" {
		return nil, invalidf("", "module ID is required")
	}

	b := &ModuleBuilder{
		moduleID: id,
		byID:     make(map[string]*ContractFuture),
	}
	results := fn(b)

	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.futures) == 0 {
		return nil, invalidf(id, "no futures declared")
	}

	for _, f := range b.futures {
		for i, a := range f.args {
			if a == nil {
				return nil, invalidf(id, "%s: argument %d is nil", f.id, i)
			}
			if ref, ok := a.(*ContractFuture); ok && ref == nil {
				return nil, invalidf(id, "%s: argument %d is a nil future", f.id, i)
			}
		}
		for _, d := range f.after {
			if d == nil {
				return nil, invalidf(id, "%s: nil future in After", f.id)
			}
		}
		for _, d := range f.Dependencies() {
			declared, ok := b.byID[d.id]
			if !ok || declared != d || d.index >= f.index {
				return nil, forwardRef(id, f.id, d.id)
			}
		}
	}

	out := make(Results, len(results))
	for name, f := range results {
		if name == "" {
			return nil, invalidf(id, "result name is required")
		}
		if f == nil {
			return nil, invalidf(id, "result %q is nil", name)
		}
		if declared, ok := b.byID[f.id]; !ok || declared != f {
			return nil, invalidf(id, "result %q references %s which is not declared in this module", name, f.id)
		}
		out[name] = f
	}

	mod := &Module{
		id:      id,
		futures: b.futures,
		byID:    b.byID,
		results: out,
	}
	if _, err := mod.batches(); err != nil {
		return nil, err
	}
	return mod, nil
}

// ID returns the module ID.
func (m *Module) ID() string { return m.id }

// Futures returns all futures in declaration order.
func (m *Module) Futures() []*ContractFuture {
	out := make([]*ContractFuture, len(m.futures))
	copy(out, m.futures)
	return out
}

// Future looks up a future by ID.
func (m *Module) Future(id string) (*ContractFuture, bool) {
	f, ok := m.byID[id]
	return f, ok
}

// Results returns a copy of the module outputs.
func (m *Module) Results() Results {
	out := make(Results, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// ResultNames returns the output names sorted alphabetically.
func (m *Module) ResultNames() []string {
	names := make([]string, 0, len(m.results))
	for k := range m.results {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Batches groups futures into execution levels. Every future in a batch
// depends only on futures in earlier batches; within a batch futures keep
// declaration order.
func (m *Module) Batches() [][]*ContractFuture {
	b, _ := m.batches()
	return b
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// batches runs Kahn's algorithm level by level over declaration indices.
func (m *Module) batches() ([][]*ContractFuture, error) {
	n := len(m.futures)
	indeg := make([]int, n)
	outgoing := make([][]int, n)
	for _, f := range m.futures {
		for _, d := range f.Dependencies() {
			outgoing[d.index] = append(outgoing[d.index], f.index)
			indeg[f.index]++
		}
	}

	ready := &indexHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	var out [][]*ContractFuture
	visited := 0
	for ready.Len() > 0 {
		var level []int
		for ready.Len() > 0 {
			level = append(level, heap.Pop(ready).(int))
		}
		batch := make([]*ContractFuture, 0, len(level))
		for _, i := range level {
			batch = append(batch, m.futures[i])
			visited++
		}
		for _, i := range level {
			for _, j := range outgoing[i] {
				indeg[j]--
				if indeg[j] == 0 {
					heap.Push(ready, j)
				}
			}
		}
		out = append(out, batch)
	}

	if visited != n {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, m.futures[i].id)
			}
		}
		return nil, cycleError(m.id, stuck)
	}
	return out, nil
}
