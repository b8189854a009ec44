package health

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/taskhub/internal/registry"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/store"
)

// RegistryChecker verifies the template registry is loaded.
type RegistryChecker struct {
	registry *registry.Registry
}

// NewRegistryChecker creates a checker over the loaded registry.
func NewRegistryChecker(reg *registry.Registry) *RegistryChecker {
	return &RegistryChecker{registry: reg}
}

func (c *RegistryChecker) Name() string {
	return "template-registry"
}

func (c *RegistryChecker) Check(ctx context.Context) *Result {
	if c.registry == nil {
		return Unhealthy("template registry not loaded")
	}
	count := len(c.registry.IDs())
	if count == 0 {
		return Unhealthy("template registry is empty")
	}
	return Healthy(fmt.Sprintf("%d templates loaded", count)).
		WithDetail("templates", count)
}

// StoreChecker verifies the instance store answers reads.
type StoreChecker struct {
	store *store.Collections
}

// NewStoreChecker creates a checker over the hub's collections.
func NewStoreChecker(st *store.Collections) *StoreChecker {
	return &StoreChecker{store: st}
}

func (c *StoreChecker) Name() string {
	return "instance-store"
}

func (c *StoreChecker) Check(ctx context.Context) *Result {
	if c.store == nil {
		return Unhealthy("store not configured")
	}
	ids, err := c.store.Active.Keys(ctx)
	if err != nil {
		return Unhealthy("store read failed").WithDetail("error", err.Error())
	}
	return Healthy("store reachable").WithDetail("active_instances", len(ids))
}

// ProcessorChecker reports on registered processors. A hub with no
// processors is degraded: it serves requests but cannot route tasks.
type ProcessorChecker struct {
	registry *router.Registry
}

// NewProcessorChecker creates a checker over the processor registry.
func NewProcessorChecker(reg *router.Registry) *ProcessorChecker {
	return &ProcessorChecker{registry: reg}
}

func (c *ProcessorChecker) Name() string {
	return "processors"
}

func (c *ProcessorChecker) Check(ctx context.Context) *Result {
	if c.registry == nil {
		return Unhealthy("processor registry not configured")
	}
	procs := c.registry.List()
	if len(procs) == 0 {
		return Degraded("no processors registered")
	}
	return Healthy(fmt.Sprintf("%d processors registered", len(procs))).
		WithDetail("processors", len(procs))
}
