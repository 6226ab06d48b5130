package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stepflow-io/stepflow"
)

// MemoryStore implements Store using in-memory maps (for tests and local
// development). A single RWMutex guards all data; Transact holds the write
// lock for the whole transaction and restores a snapshot on failure, so
// readers never observe a partial mutation.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	definitions   map[string]*stepflow.WorkflowDefinition
	steps         map[string]*stepflow.WorkflowStep
	dependencies  map[string]*stepflow.StepDependency
	instances     map[string]*stepflow.WorkflowInstance
	stepInstances map[string]*stepflow.StepInstance
}

func newMemoryData() *memoryData {
	return &memoryData{
		definitions:   make(map[string]*stepflow.WorkflowDefinition),
		steps:         make(map[string]*stepflow.WorkflowStep),
		dependencies:  make(map[string]*stepflow.StepDependency),
		instances:     make(map[string]*stepflow.WorkflowInstance),
		stepInstances: make(map[string]*stepflow.StepInstance),
	}
}

func (d *memoryData) clone() *memoryData {
	out := newMemoryData()
	for k, v := range d.definitions {
		cp := *v
		out.definitions[k] = &cp
	}
	for k, v := range d.steps {
		cp := *v
		out.steps[k] = &cp
	}
	for k, v := range d.dependencies {
		cp := *v
		out.dependencies[k] = &cp
	}
	for k, v := range d.instances {
		cp := *v
		out.instances[k] = &cp
	}
	for k, v := range d.stepInstances {
		cp := *v
		out.stepInstances[k] = &cp
	}
	return out
}

// NewMemoryStore creates a new in-memory workflow store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

// Transact runs fn under the write lock against an unlocked view of the
// data. On error the pre-transaction snapshot is restored.
func (s *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, &memoryTx{data: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Workflow definition operations

func (s *MemoryStore) CreateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createDefinition(def)
}

func (d *memoryData) createDefinition(def *stepflow.WorkflowDefinition) error {
	for _, existing := range d.definitions {
		if existing.Name == def.Name && existing.Version == def.Version {
			return stepflow.NewBadRequest("create definition: duplicate value violates workflow_definitions_name_version_key")
		}
	}
	defCopy := *def
	d.definitions[def.ID] = &defCopy
	return nil
}

func (s *MemoryStore) GetDefinition(ctx context.Context, id string) (*stepflow.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getDefinition(id)
}

func (d *memoryData) getDefinition(id string) (*stepflow.WorkflowDefinition, error) {
	def, exists := d.definitions[id]
	if !exists {
		return nil, stepflow.NewNotFound("workflow definition", id)
	}
	defCopy := *def
	return &defCopy, nil
}

func (s *MemoryStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*stepflow.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listDefinitions(filter)
}

func (d *memoryData) listDefinitions(filter DefinitionFilter) ([]*stepflow.WorkflowDefinition, error) {
	var defs []*stepflow.WorkflowDefinition
	for _, def := range d.definitions {
		if filter.Status != nil && def.Status != *filter.Status {
			continue
		}
		defCopy := *def
		defs = append(defs, &defCopy)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].Version < defs[j].Version
	})
	return defs, nil
}

func (s *MemoryStore) UpdateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateDefinition(def)
}

func (d *memoryData) updateDefinition(def *stepflow.WorkflowDefinition) error {
	if _, exists := d.definitions[def.ID]; !exists {
		return stepflow.NewNotFound("workflow definition", def.ID)
	}
	for id, existing := range d.definitions {
		if id != def.ID && existing.Name == def.Name && existing.Version == def.Version {
			return stepflow.NewBadRequest("update definition: duplicate value violates workflow_definitions_name_version_key")
		}
	}
	defCopy := *def
	d.definitions[def.ID] = &defCopy
	return nil
}

func (s *MemoryStore) DeleteDefinition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteDefinition(id)
}

func (d *memoryData) deleteDefinition(id string) error {
	if _, exists := d.definitions[id]; !exists {
		return stepflow.NewNotFound("workflow definition", id)
	}
	for _, inst := range d.instances {
		if inst.DefinitionID == id {
			return stepflow.NewBadRequest("delete definition: referenced row violates workflow_instances_definition_id_fkey")
		}
	}
	// Cascade to steps and their edges
	for stepID, step := range d.steps {
		if step.DefinitionID != id {
			continue
		}
		for depID, dep := range d.dependencies {
			if dep.PredecessorID == stepID || dep.SuccessorID == stepID {
				delete(d.dependencies, depID)
			}
		}
		delete(d.steps, stepID)
	}
	delete(d.definitions, id)
	return nil
}

// Definition step operations

func (s *MemoryStore) CreateStep(ctx context.Context, step *stepflow.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createStep(step)
}

func (d *memoryData) createStep(step *stepflow.WorkflowStep) error {
	if _, exists := d.definitions[step.DefinitionID]; !exists {
		return stepflow.NewBadRequest("create step: referenced row violates workflow_steps_definition_id_fkey")
	}
	for _, existing := range d.steps {
		if existing.DefinitionID == step.DefinitionID && existing.Sequence == step.Sequence {
			return stepflow.NewBadRequest("create step: duplicate value violates workflow_steps_definition_id_sequence_key")
		}
	}
	stepCopy := *step
	d.steps[step.ID] = &stepCopy
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, id string) (*stepflow.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getStep(id)
}

func (d *memoryData) getStep(id string) (*stepflow.WorkflowStep, error) {
	step, exists := d.steps[id]
	if !exists {
		return nil, stepflow.NewNotFound("workflow step", id)
	}
	stepCopy := *step
	return &stepCopy, nil
}

func (s *MemoryStore) ListSteps(ctx context.Context, definitionID string) ([]*stepflow.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listSteps(definitionID)
}

func (d *memoryData) listSteps(definitionID string) ([]*stepflow.WorkflowStep, error) {
	var steps []*stepflow.WorkflowStep
	for _, step := range d.steps {
		if step.DefinitionID != definitionID {
			continue
		}
		stepCopy := *step
		steps = append(steps, &stepCopy)
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Sequence < steps[j].Sequence
	})
	return steps, nil
}

func (s *MemoryStore) UpdateStep(ctx context.Context, step *stepflow.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateStep(step)
}

func (d *memoryData) updateStep(step *stepflow.WorkflowStep) error {
	if _, exists := d.steps[step.ID]; !exists {
		return stepflow.NewNotFound("workflow step", step.ID)
	}
	for id, existing := range d.steps {
		if id != step.ID && existing.DefinitionID == step.DefinitionID && existing.Sequence == step.Sequence {
			return stepflow.NewBadRequest("update step: duplicate value violates workflow_steps_definition_id_sequence_key")
		}
	}
	stepCopy := *step
	d.steps[step.ID] = &stepCopy
	return nil
}

func (s *MemoryStore) DeleteStep(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteStep(id)
}

func (d *memoryData) deleteStep(id string) error {
	if _, exists := d.steps[id]; !exists {
		return stepflow.NewNotFound("workflow step", id)
	}
	for _, si := range d.stepInstances {
		if si.StepID == id {
			return stepflow.NewBadRequest("delete step: referenced row violates step_instances_step_id_fkey")
		}
	}
	for depID, dep := range d.dependencies {
		if dep.PredecessorID == id || dep.SuccessorID == id {
			delete(d.dependencies, depID)
		}
	}
	delete(d.steps, id)
	return nil
}

// Dependency edge operations

func (s *MemoryStore) CreateDependency(ctx context.Context, dep *stepflow.StepDependency) (*stepflow.StepDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createDependency(dep)
}

func (d *memoryData) createDependency(dep *stepflow.StepDependency) (*stepflow.StepDependency, error) {
	// Idempotent on the (predecessor, successor) pair
	for _, existing := range d.dependencies {
		if existing.PredecessorID == dep.PredecessorID && existing.SuccessorID == dep.SuccessorID {
			depCopy := *existing
			return &depCopy, nil
		}
	}
	if _, exists := d.steps[dep.PredecessorID]; !exists {
		return nil, stepflow.NewBadRequest("create dependency: referenced row violates step_dependencies_predecessor_id_fkey")
	}
	if _, exists := d.steps[dep.SuccessorID]; !exists {
		return nil, stepflow.NewBadRequest("create dependency: referenced row violates step_dependencies_successor_id_fkey")
	}
	depCopy := *dep
	d.dependencies[dep.ID] = &depCopy
	out := depCopy
	return &out, nil
}

func (s *MemoryStore) GetDependency(ctx context.Context, id string) (*stepflow.StepDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getDependency(id)
}

func (d *memoryData) getDependency(id string) (*stepflow.StepDependency, error) {
	dep, exists := d.dependencies[id]
	if !exists {
		return nil, stepflow.NewNotFound("step dependency", id)
	}
	depCopy := *dep
	return &depCopy, nil
}

func (s *MemoryStore) ListDependencies(ctx context.Context, definitionID string) ([]*stepflow.StepDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listDependencies(definitionID)
}

func (d *memoryData) listDependencies(definitionID string) ([]*stepflow.StepDependency, error) {
	var deps []*stepflow.StepDependency
	for _, dep := range d.dependencies {
		pred, exists := d.steps[dep.PredecessorID]
		if !exists || pred.DefinitionID != definitionID {
			continue
		}
		depCopy := *dep
		deps = append(deps, &depCopy)
	}
	sort.Slice(deps, func(i, j int) bool {
		if !deps[i].CreatedAt.Equal(deps[j].CreatedAt) {
			return deps[i].CreatedAt.Before(deps[j].CreatedAt)
		}
		return deps[i].ID < deps[j].ID
	})
	return deps, nil
}

func (s *MemoryStore) DeleteDependency(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteDependency(id)
}

func (d *memoryData) deleteDependency(id string) error {
	if _, exists := d.dependencies[id]; !exists {
		return stepflow.NewNotFound("step dependency", id)
	}
	delete(d.dependencies, id)
	return nil
}

// Workflow instance operations

func (s *MemoryStore) CreateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createInstance(inst)
}

func (d *memoryData) createInstance(inst *stepflow.WorkflowInstance) error {
	if _, exists := d.definitions[inst.DefinitionID]; !exists {
		return stepflow.NewBadRequest("create instance: referenced row violates workflow_instances_definition_id_fkey")
	}
	instCopy := *inst
	d.instances[inst.ID] = &instCopy
	return nil
}

func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*stepflow.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getInstance(id)
}

func (s *MemoryStore) GetInstanceForUpdate(ctx context.Context, id string) (*stepflow.WorkflowInstance, error) {
	return s.GetInstance(ctx, id)
}

func (d *memoryData) getInstance(id string) (*stepflow.WorkflowInstance, error) {
	inst, exists := d.instances[id]
	if !exists {
		return nil, stepflow.NewNotFound("workflow instance", id)
	}
	instCopy := *inst
	return &instCopy, nil
}

func (s *MemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*stepflow.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listInstances(filter)
}

func (d *memoryData) listInstances(filter InstanceFilter) ([]*stepflow.WorkflowInstance, error) {
	var insts []*stepflow.WorkflowInstance
	for _, inst := range d.instances {
		if filter.DefinitionID != "" && inst.DefinitionID != filter.DefinitionID {
			continue
		}
		if filter.Status != nil && inst.Status != *filter.Status {
			continue
		}
		if filter.After != nil {
			// Seek predicate: (updated_at, id) strictly below the cursor in
			// descending order.
			if inst.UpdatedAt.After(filter.After.UpdatedAt) {
				continue
			}
			if inst.UpdatedAt.Equal(filter.After.UpdatedAt) && inst.ID >= filter.After.ID {
				continue
			}
		}
		instCopy := *inst
		insts = append(insts, &instCopy)
	}
	sort.Slice(insts, func(i, j int) bool {
		if !insts[i].UpdatedAt.Equal(insts[j].UpdatedAt) {
			return insts[i].UpdatedAt.After(insts[j].UpdatedAt)
		}
		return insts[i].ID > insts[j].ID
	})
	if filter.Limit > 0 && len(insts) > filter.Limit {
		insts = insts[:filter.Limit]
	}
	return insts, nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateInstance(inst)
}

func (d *memoryData) updateInstance(inst *stepflow.WorkflowInstance) error {
	if _, exists := d.instances[inst.ID]; !exists {
		return stepflow.NewNotFound("workflow instance", inst.ID)
	}
	instCopy := *inst
	d.instances[inst.ID] = &instCopy
	return nil
}

// Step instance operations

func (s *MemoryStore) CreateStepInstances(ctx context.Context, items []*stepflow.StepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createStepInstances(items)
}

func (d *memoryData) createStepInstances(items []*stepflow.StepInstance) error {
	for _, si := range items {
		for _, existing := range d.stepInstances {
			if existing.InstanceID == si.InstanceID && existing.StepID == si.StepID {
				return stepflow.NewBadRequest("create step instances: duplicate value violates step_instances_instance_id_step_id_key")
			}
		}
		siCopy := *si
		d.stepInstances[si.ID] = &siCopy
	}
	return nil
}

func (s *MemoryStore) GetStepInstance(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getStepInstance(instanceID, stepInstanceID)
}

func (s *MemoryStore) GetStepInstanceForUpdate(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	return s.GetStepInstance(ctx, instanceID, stepInstanceID)
}

func (d *memoryData) getStepInstance(instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	si, exists := d.stepInstances[stepInstanceID]
	if !exists || si.InstanceID != instanceID {
		return nil, stepflow.NewNotFound("step instance", stepInstanceID)
	}
	siCopy := *si
	return &siCopy, nil
}

func (s *MemoryStore) ListStepInstances(ctx context.Context, instanceID string) ([]*stepflow.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listStepInstances(instanceID)
}

func (d *memoryData) listStepInstances(instanceID string) ([]*stepflow.StepInstance, error) {
	var items []*stepflow.StepInstance
	for _, si := range d.stepInstances {
		if si.InstanceID != instanceID {
			continue
		}
		siCopy := *si
		items = append(items, &siCopy)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) UpdateStepInstance(ctx context.Context, si *stepflow.StepInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateStepInstance(si)
}

func (d *memoryData) updateStepInstance(si *stepflow.StepInstance) error {
	if _, exists := d.stepInstances[si.ID]; !exists {
		return stepflow.NewNotFound("step instance", si.ID)
	}
	siCopy := *si
	d.stepInstances[si.ID] = &siCopy
	return nil
}

// memoryTx is the unlocked view handed to Transact callbacks. The write
// lock is already held by Transact.
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	// Already inside a transaction; join it.
	return fn(ctx, t)
}

func (t *memoryTx) CreateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error {
	return t.data.createDefinition(def)
}

func (t *memoryTx) GetDefinition(ctx context.Context, id string) (*stepflow.WorkflowDefinition, error) {
	return t.data.getDefinition(id)
}

func (t *memoryTx) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*stepflow.WorkflowDefinition, error) {
	return t.data.listDefinitions(filter)
}

func (t *memoryTx) UpdateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error {
	return t.data.updateDefinition(def)
}

func (t *memoryTx) DeleteDefinition(ctx context.Context, id string) error {
	return t.data.deleteDefinition(id)
}

func (t *memoryTx) CreateStep(ctx context.Context, step *stepflow.WorkflowStep) error {
	return t.data.createStep(step)
}

func (t *memoryTx) GetStep(ctx context.Context, id string) (*stepflow.WorkflowStep, error) {
	return t.data.getStep(id)
}

func (t *memoryTx) ListSteps(ctx context.Context, definitionID string) ([]*stepflow.WorkflowStep, error) {
	return t.data.listSteps(definitionID)
}

func (t *memoryTx) UpdateStep(ctx context.Context, step *stepflow.WorkflowStep) error {
	return t.data.updateStep(step)
}

func (t *memoryTx) DeleteStep(ctx context.Context, id string) error {
	return t.data.deleteStep(id)
}

func (t *memoryTx) CreateDependency(ctx context.Context, dep *stepflow.StepDependency) (*stepflow.StepDependency, error) {
	return t.data.createDependency(dep)
}

func (t *memoryTx) GetDependency(ctx context.Context, id string) (*stepflow.StepDependency, error) {
	return t.data.getDependency(id)
}

func (t *memoryTx) ListDependencies(ctx context.Context, definitionID string) ([]*stepflow.StepDependency, error) {
	return t.data.listDependencies(definitionID)
}

func (t *memoryTx) DeleteDependency(ctx context.Context, id string) error {
	return t.data.deleteDependency(id)
}

func (t *memoryTx) CreateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error {
	return t.data.createInstance(inst)
}

func (t *memoryTx) GetInstance(ctx context.Context, id string) (*stepflow.WorkflowInstance, error) {
	return t.data.getInstance(id)
}

func (t *memoryTx) GetInstanceForUpdate(ctx context.Context, id string) (*stepflow.WorkflowInstance, error) {
	return t.data.getInstance(id)
}

func (t *memoryTx) ListInstances(ctx context.Context, filter InstanceFilter) ([]*stepflow.WorkflowInstance, error) {
	return t.data.listInstances(filter)
}

func (t *memoryTx) UpdateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error {
	return t.data.updateInstance(inst)
}

func (t *memoryTx) CreateStepInstances(ctx context.Context, items []*stepflow.StepInstance) error {
	return t.data.createStepInstances(items)
}

func (t *memoryTx) GetStepInstance(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	return t.data.getStepInstance(instanceID, stepInstanceID)
}

func (t *memoryTx) GetStepInstanceForUpdate(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	return t.data.getStepInstance(instanceID, stepInstanceID)
}

func (t *memoryTx) ListStepInstances(ctx context.Context, instanceID string) ([]*stepflow.StepInstance, error) {
	return t.data.listStepInstances(instanceID)
}

func (t *memoryTx) UpdateStepInstance(ctx context.Context, si *stepflow.StepInstance) error {
	return t.data.updateStepInstance(si)
}
