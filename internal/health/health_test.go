package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskhub/internal/registry"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/store"
)

type staticChecker struct {
	name   string
	result *Result
}

func (s staticChecker) Name() string                  { return s.name }
func (s staticChecker) Check(context.Context) *Result { return s.result }

func TestManagerAggregates(t *testing.T) {
	m := NewManager()
	m.AddChecker(staticChecker{"a", Healthy("ok")})
	m.AddChecker(staticChecker{"b", Degraded("meh")})

	results := m.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusDegraded, m.OverallStatus(results))

	m.AddChecker(staticChecker{"c", Unhealthy("down")})
	assert.Equal(t, StatusUnhealthy, m.OverallStatus(m.Check(context.Background())))
}

func TestOverallStatusEmptyIsHealthy(t *testing.T) {
	m := NewManager()
	assert.Equal(t, StatusHealthy, m.OverallStatus(nil))
}

func TestProbeLifecycle(t *testing.T) {
	pm := NewProbeManager("1.0.0")
	ctx := context.Background()

	// Not initialized yet: startup fails, liveness passes.
	assert.Equal(t, StatusUnhealthy, pm.CheckStartup(ctx).Status)
	assert.Equal(t, StatusHealthy, pm.CheckLiveness(ctx).Status)

	pm.MarkInitialized()
	assert.Equal(t, StatusHealthy, pm.CheckStartup(ctx).Status)
	assert.Equal(t, StatusHealthy, pm.CheckReadiness(ctx).Status)

	pm.MarkShutdown()
	assert.Equal(t, StatusDegraded, pm.CheckLiveness(ctx).Status)
	assert.Equal(t, StatusUnhealthy, pm.CheckReadiness(ctx).Status)
}

func TestRegistryChecker(t *testing.T) {
	reg, err := registry.Build(nil, []registry.Record{{"name": "root"}})
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, NewRegistryChecker(reg).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewRegistryChecker(nil).Check(context.Background()).Status)
}

func TestStoreChecker(t *testing.T) {
	st := store.NewMemoryCollections()
	assert.Equal(t, StatusHealthy, NewStoreChecker(st).Check(context.Background()).Status)
}

func TestProcessorChecker(t *testing.T) {
	procs := router.NewRegistry()
	c := NewProcessorChecker(procs)
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	procs.Register(router.Processor{ID: "p1", Environments: []string{"ui"}})
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}
