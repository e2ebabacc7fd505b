package deliver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/pkg/logger"
	"bizforge.io/platform/internal/pkg/worker"
	"bizforge.io/platform/internal/workflow"
)

func init() {
	_ = logger.Init("error", "console")
}

type fakeCache struct {
	calls chan string
	err   error
}

func (f *fakeCache) Invalidate(_ context.Context, _, _, entityID string) error {
	f.calls <- entityID
	return f.err
}

type fakeUsage struct {
	calls chan string
	err   error
}

func (f *fakeUsage) IncrementMutations(_ context.Context, tenantID string) error {
	f.calls <- tenantID
	return f.err
}

type fakeEvaluator struct {
	phases chan workflow.Phase
	err    error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, phase workflow.Phase, _ domain.MutationSpec, _ map[string]any, _ domain.MutationContext) (workflow.Decision, error) {
	f.phases <- phase
	return workflow.Decision{Proceed: true}, f.err
}

func (f *fakeEvaluator) LoadInstance(context.Context, string, string) (*workflow.Instance, error) {
	return nil, nil
}

type deliverFixture struct {
	executor *Executor
	cache    *fakeCache
	wf       *fakeEvaluator
	usage    *fakeUsage
}

func newFixture(t *testing.T, cacheErr, wfErr, usageErr error) deliverFixture {
	t.Helper()
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{
		GeneralPoolSize: 2,
		DeliverPoolSize: 2,
	})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	cache := &fakeCache{calls: make(chan string, 1), err: cacheErr}
	wf := &fakeEvaluator{phases: make(chan workflow.Phase, 1), err: wfErr}
	usage := &fakeUsage{calls: make(chan string, 1), err: usageErr}
	return deliverFixture{
		executor: NewExecutor(pools, cache, wf, usage),
		cache:    cache,
		wf:       wf,
		usage:    usage,
	}
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("%s was never attempted", what)
		panic("unreachable")
	}
}

func testMutation() (domain.MutationSpec, domain.MutationContext, domain.CommitResult) {
	spec := domain.MutationSpec{
		ActionType: "sales_order.update",
		EntityRef:  domain.EntityRef{Type: "sales_order", ID: "so-1"},
	}
	mctx := domain.MutationContext{
		RequestID: "req-1",
		Actor:     domain.ResolvedActor{TenantID: "t1", UserID: "u1"},
		Channel:   domain.ChannelInteractive,
	}
	result := domain.CommitResult{
		EntityID:     "so-1",
		VersionAfter: 2,
		After:        map[string]any{"memo": "x"},
	}
	return spec, mctx, result
}

func TestFireRunsAllEffects(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	spec, mctx, result := testMutation()

	fx.executor.Fire(spec, mctx, result)

	assert.Equal(t, "so-1", recv(t, fx.cache.calls, "cache invalidation"))
	assert.Equal(t, workflow.PhaseAfter, recv(t, fx.wf.phases, "workflow after-hook"))
	assert.Equal(t, "t1", recv(t, fx.usage.calls, "usage metering"))
}

// Every effect is attempted even when the ones before it fail, and none of
// the failures reach the caller.
func TestFireSwallowsEffectFailures(t *testing.T) {
	fx := newFixture(t,
		errors.New("cache backend down"),
		errors.New("workflow engine down"),
		errors.New("usage table locked"))
	spec, mctx, result := testMutation()

	fx.executor.Fire(spec, mctx, result)

	recv(t, fx.cache.calls, "cache invalidation")
	recv(t, fx.wf.phases, "workflow after-hook")
	recv(t, fx.usage.calls, "usage metering")
}

func TestNewExecutorDefaultsCache(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	e := NewExecutor(fx.executor.pools, nil, fx.wf, fx.usage)
	assert.IsType(t, NoopCache{}, e.cache)
	assert.NoError(t, NoopCache{}.Invalidate(context.Background(), "t1", "sales_order", "so-1"))
}
