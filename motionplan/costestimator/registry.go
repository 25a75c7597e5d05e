// Package costestimator estimates the cost-to-go of frontier edges for graph searches.
package costestimator

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/gcs"
	"go.viam.com/contactplan/solver"
)

// Names of the built in shortcut cost factories.
const (
	ContactShortcutEdgeL1NormCostFactory   = "contact_shortcut_edge_l1_norm_cost_factory"
	ContactShortcutEdgeCostOverObjWeighted = "contact_shortcut_edge_cost_factory_over_obj_weighted"
	ShortcutEdgeL1NormCostFactory          = "shortcut_edge_l1_norm_cost_factory"
)

var (
	// ErrUnknownCostFactory is returned when a cost factory name is not registered.
	ErrUnknownCostFactory = errors.New("unknown cost factory")
	// ErrMissingShortcutCost is returned when a shortcut edge would have no cost.
	ErrMissingShortcutCost = errors.New("no shortcut cost factory and no default edge costs")
)

// ShortcutCostFactory builds the costs of an edge from a vertex to the target. Contact is used when
// both endpoints carry contact decision variables, Dim for any other pair of sets of equal
// dimension. Either may be nil.
type ShortcutCostFactory struct {
	Name    string
	Contact func(u, v *contact.DecisionVariables, addConst bool) ([]solver.Cost, error)
	Dim     func(dim int, addConst bool) []solver.Cost
}

// Costs returns the costs of the edge u -> v.
func (f *ShortcutCostFactory) Costs(u, v *gcs.Vertex, addConst bool) ([]solver.Cost, error) {
	us, uok := u.ConvexSet.(contact.StructuredSet)
	vs, vok := v.ConvexSet.(contact.StructuredSet)
	if uok && vok {
		if f.Contact == nil {
			return nil, errors.Errorf("cost factory %s has no form for contact sets", f.Name)
		}
		return f.Contact(us.Vars(), vs.Vars(), addConst)
	}
	if f.Dim == nil {
		return nil, errors.Errorf("cost factory %s only handles contact sets", f.Name)
	}
	if u.ConvexSet.Dim() != v.ConvexSet.Dim() {
		return nil, errors.Errorf("cost factory %s: sets of dimension %d and %d", f.Name, u.ConvexSet.Dim(), v.ConvexSet.Dim())
	}
	return f.Dim(v.ConvexSet.Dim(), addConst), nil
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*ShortcutCostFactory{}
)

func init() {
	RegisterShortcutCostFactory(&ShortcutCostFactory{
		Name:    ContactShortcutEdgeL1NormCostFactory,
		Contact: gcs.ContactShortcutEdgeL1NormCost,
		Dim:     gcs.ShortcutEdgeL1NormCost,
	})
	RegisterShortcutCostFactory(&ShortcutCostFactory{
		Name:    ContactShortcutEdgeCostOverObjWeighted,
		Contact: gcs.ContactShortcutEdgeCostOverObjWeighted,
		Dim:     gcs.ShortcutEdgeL1NormCost,
	})
	RegisterShortcutCostFactory(&ShortcutCostFactory{
		Name: ShortcutEdgeL1NormCostFactory,
		Dim:  gcs.ShortcutEdgeL1NormCost,
	})
}

// RegisterShortcutCostFactory makes `f` resolvable by name. Registering a name twice panics.
func RegisterShortcutCostFactory(f *ShortcutCostFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f.Contact == nil && f.Dim == nil {
		panic(errors.Errorf("cannot register cost factory %q without a cost function", f.Name))
	}
	if _, old := registry[f.Name]; old {
		panic(errors.Errorf("trying to register two cost factories named %q", f.Name))
	}
	registry[f.Name] = f
}

// LookupShortcutCostFactory resolves a registered factory.
func LookupShortcutCostFactory(name string) (*ShortcutCostFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownCostFactory, name)
	}
	return f, nil
}

// ShortcutCostFactoryNames lists the registered names in sorted order.
func ShortcutCostFactoryNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
