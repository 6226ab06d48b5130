package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/event"
	"github.com/stepflow-io/stepflow/store"
)

// captureSink records published events for assertions
type captureSink struct {
	mu     sync.Mutex
	events []event.Event
	fail   bool
}

func (s *captureSink) Publish(ctx context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

func newTestEngine(t *testing.T) (*Engine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	eng := New(store.NewMemoryStore(),
		WithLogger(zerolog.Nop()),
		WithSink(sink),
		WithClock(func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	return eng, sink
}

// fixture is a started instance with steps addressable by name
type fixture struct {
	definition    *stepflow.WorkflowDefinition
	instance      *stepflow.WorkflowInstance
	stepsByName   map[string]*stepflow.WorkflowStep
	stepInstances map[string]*stepflow.StepInstance // keyed by step name
}

// seedDefinition creates an active definition with the named steps in
// order and the given name-pair edges.
func seedDefinition(t *testing.T, eng *Engine, names []string, edges [][2]string) (*stepflow.WorkflowDefinition, map[string]*stepflow.WorkflowStep) {
	t.Helper()
	ctx := context.Background()

	def, err := eng.CreateDefinition(ctx, CreateDefinitionInput{
		Name:   "fixture-" + t.Name(),
		Status: "active",
	})
	require.NoError(t, err)

	byName := make(map[string]*stepflow.WorkflowStep, len(names))
	for i, name := range names {
		step, err := eng.AddStep(ctx, def.ID, StepInput{Sequence: i + 1, Name: name})
		require.NoError(t, err)
		byName[name] = step
	}
	for _, e := range edges {
		_, err := eng.AddDependency(ctx, DependencyInput{
			PredecessorID: byName[e[0]].ID,
			SuccessorID:   byName[e[1]].ID,
		})
		require.NoError(t, err)
	}
	return def, byName
}

// startFixture seeds a definition and starts one instance of it
func startFixture(t *testing.T, eng *Engine, names []string, edges [][2]string) *fixture {
	t.Helper()
	ctx := context.Background()

	def, byName := seedDefinition(t, eng, names, edges)
	inst, err := eng.StartInstance(ctx, def.ID)
	require.NoError(t, err)

	items, err := eng.store.ListStepInstances(ctx, inst.ID)
	require.NoError(t, err)

	nameByStepID := make(map[string]string, len(byName))
	for name, step := range byName {
		nameByStepID[step.ID] = name
	}
	siByName := make(map[string]*stepflow.StepInstance, len(items))
	for _, si := range items {
		siByName[nameByStepID[si.StepID]] = si
	}

	return &fixture{
		definition:    def,
		instance:      inst,
		stepsByName:   byName,
		stepInstances: siByName,
	}
}

// status reloads a step instance's current status
func (f *fixture) status(t *testing.T, eng *Engine, name string) stepflow.StepInstanceStatus {
	t.Helper()
	si, err := eng.store.GetStepInstance(context.Background(), f.instance.ID, f.stepInstances[name].ID)
	require.NoError(t, err)
	return si.Status
}

// run advances and completes the named step
func (f *fixture) run(t *testing.T, eng *Engine, name string) {
	t.Helper()
	ctx := context.Background()
	si := f.stepInstances[name]
	_, err := eng.Advance(ctx, f.instance.ID, si.ID)
	require.NoError(t, err)
	_, err = eng.Complete(ctx, f.instance.ID, si.ID)
	require.NoError(t, err)
}
