package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/kernel/fieldpolicy"
	"bizforge.io/platform/internal/kernel/handler"
	"bizforge.io/platform/internal/kernel/ratelimit"
	apperrors "bizforge.io/platform/internal/pkg/errors"
	"bizforge.io/platform/internal/registry"
	"bizforge.io/platform/internal/workflow"
)

type fakeRows struct {
	rows map[string]map[string]any
	err  error
}

func (f *fakeRows) ReadRow(_ context.Context, _ registry.Definition, _, id string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[id], nil
}

type fakeReceipts struct {
	receipt *domain.Receipt
}

func (f *fakeReceipts) FindReceiptByIdempotencyKey(context.Context, string, string, string) (*domain.Receipt, error) {
	return f.receipt, nil
}

type blockingWorkflow struct {
	workflow.NoopEvaluator
	instance *workflow.Instance
	decision *workflow.Decision
}

func (w *blockingWorkflow) LoadInstance(context.Context, string, string) (*workflow.Instance, error) {
	return w.instance, nil
}

func (w *blockingWorkflow) Evaluate(ctx context.Context, phase workflow.Phase, spec domain.MutationSpec, current map[string]any, mctx domain.MutationContext) (workflow.Decision, error) {
	if w.decision != nil {
		return *w.decision, nil
	}
	return w.NoopEvaluator.Evaluate(ctx, phase, spec, current, mctx)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Definition{
		Type:  "sales_order",
		Table: "sales_orders",
		Fields: map[string]registry.FieldType{
			"order_number": registry.FieldString,
			"customer_id":  registry.FieldString,
			"total":        registry.FieldNumber,
			"currency":     registry.FieldString,
			"notes":        registry.FieldString,
		},
		FieldRules: fieldpolicy.RuleSet{
			Immutable:   []string{"order_number"},
			ServerOwned: []string{"total"},
			NonNullable: []string{"currency"},
		},
		HasSoftDelete:    true,
		HasDocStatus:     true,
		HasPostingStatus: true,
		Searchable:       true,
	}))
	return reg
}

func adminActor() domain.ResolvedActor {
	return domain.ResolvedActor{
		TenantID: "t1",
		UserID:   "u1",
		Permissions: []domain.Permission{
			{EntityType: domain.Wildcard, Verb: domain.Wildcard, Scope: domain.ScopeOrg},
		},
	}
}

func testContext() domain.MutationContext {
	return domain.MutationContext{
		RequestID: "req-1",
		Actor:     adminActor(),
		Channel:   domain.ChannelInteractive,
	}
}

func newBuilder(t *testing.T, rows *fakeRows, opts ...func(*Builder)) *Builder {
	t.Helper()
	b := NewBuilder(
		testRegistry(t),
		handler.NewRegistry(),
		ratelimit.New(100, time.Minute),
		rows,
		&fakeReceipts{},
		workflow.NoopEvaluator{},
	)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func existingOrder() map[string]any {
	return map[string]any{
		domain.ColID:            "so-1",
		domain.ColTenantID:      "t1",
		domain.ColVersion:       int64(3),
		domain.ColDeleted:       false,
		domain.ColDocStatus:     string(domain.DocDraft),
		domain.ColPostingStatus: "",
		"order_number":          "SO-001",
		"currency":              "EUR",
		"notes":                 "first",
	}
}

func ptr(v int64) *int64 { return &v }

func TestBuildCreate(t *testing.T) {
	b := newBuilder(t, &fakeRows{})
	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType: "sales_order.create",
		EntityRef:  domain.EntityRef{Type: "sales_order"},
		Input: map[string]any{
			"order_number": "SO-002",
			"currency":     "EUR",
			"total":        float64(100), // server-owned, silently stripped
			"id":           "spoofed",    // system column, silently dropped
		},
	}, testContext())
	require.NoError(t, err)
	require.NotNil(t, res.Prepared)

	p := res.Prepared
	assert.Equal(t, domain.VerbCreate, p.Verb)
	assert.Equal(t, "sales_order", p.EntityType)
	assert.Empty(t, p.EntityID)
	assert.Nil(t, p.Current)
	assert.Equal(t, []string{"total"}, p.StrippedFields)
	assert.NotContains(t, p.Input, "total")
	assert.NotContains(t, p.Input, "id")
	assert.Equal(t, "SO-002", p.Input["order_number"])
	assert.NotEmpty(t, res.MutationID)
}

func TestBuildShapeRules(t *testing.T) {
	tests := []struct {
		name string
		spec domain.MutationSpec
	}{
		{"malformed action", domain.MutationSpec{
			ActionType: "sales_order",
			EntityRef:  domain.EntityRef{Type: "sales_order"},
		}},
		{"unknown verb", domain.MutationSpec{
			ActionType: "sales_order.explode",
			EntityRef:  domain.EntityRef{Type: "sales_order"},
		}},
		{"namespace mismatch", domain.MutationSpec{
			ActionType: "customer.update",
			EntityRef:  domain.EntityRef{Type: "sales_order", ID: "so-1"},
			ExpectedVersion: ptr(3),
		}},
		{"unknown entity type", domain.MutationSpec{
			ActionType: "invoice.create",
			EntityRef:  domain.EntityRef{Type: "invoice"},
			Input:      map[string]any{"x": 1},
		}},
		{"create with id", domain.MutationSpec{
			ActionType: "sales_order.create",
			EntityRef:  domain.EntityRef{Type: "sales_order", ID: "so-1"},
			Input:      map[string]any{"currency": "EUR"},
		}},
		{"create with expected version", domain.MutationSpec{
			ActionType:      "sales_order.create",
			EntityRef:       domain.EntityRef{Type: "sales_order"},
			Input:           map[string]any{"currency": "EUR"},
			ExpectedVersion: ptr(1),
		}},
		{"create without input", domain.MutationSpec{
			ActionType: "sales_order.create",
			EntityRef:  domain.EntityRef{Type: "sales_order"},
		}},
		{"update without id", domain.MutationSpec{
			ActionType:      "sales_order.update",
			EntityRef:       domain.EntityRef{Type: "sales_order"},
			Input:           map[string]any{"notes": "x"},
			ExpectedVersion: ptr(3),
		}},
		{"update without expected version", domain.MutationSpec{
			ActionType: "sales_order.update",
			EntityRef:  domain.EntityRef{Type: "sales_order", ID: "so-1"},
			Input:      map[string]any{"notes": "x"},
		}},
		{"submit with input", domain.MutationSpec{
			ActionType:      "sales_order.submit",
			EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
			Input:           map[string]any{"notes": "x"},
			ExpectedVersion: ptr(3),
		}},
	}

	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.spec, testContext())
			require.Error(t, err)
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
			assert.True(t, appErr.ClientFault)
		})
	}
}

func TestBuildInputValidation(t *testing.T) {
	b := newBuilder(t, &fakeRows{})
	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType: "sales_order.create",
		EntityRef:  domain.EntityRef{Type: "sales_order"},
		Input: map[string]any{
			"currency":  "EUR",
			"total":     "not-a-number",
			"surprise":  true,
		},
	}, testContext())
	require.Error(t, err)
	appErr, _ := apperrors.IsAppError(err)
	require.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
	require.Len(t, appErr.FieldErrors, 2)

	codes := map[string]string{}
	for _, fe := range appErr.FieldErrors {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, "TYPE_MISMATCH", codes["total"])
	assert.Equal(t, "UNKNOWN_FIELD", codes["surprise"])
}

func TestBuildUpdateLoadsCurrent(t *testing.T) {
	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}})
	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "updated"},
		ExpectedVersion: ptr(3),
	}, testContext())
	require.NoError(t, err)
	require.NotNil(t, res.Prepared)
	assert.Equal(t, int64(3), res.Prepared.ExpectedVersion)
	assert.Equal(t, "SO-001", res.Prepared.Current["order_number"])
}

func TestBuildNotFoundAndConflict(t *testing.T) {
	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}})

	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "missing"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(1),
	}, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)

	_, err = b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(1), // row is at 3
	}, testContext())
	appErr, _ = apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeConflictVersion, appErr.Code)
}

func TestBuildSoftDeletedHiddenExceptRestore(t *testing.T) {
	deleted := existingOrder()
	deleted[domain.ColDeleted] = true
	deleted[domain.ColDocStatus] = string(domain.DocCancelled)
	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": deleted}})

	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(3),
	}, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)

	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.restore",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		ExpectedVersion: ptr(3),
	}, testContext())
	require.NoError(t, err)
	require.NotNil(t, res.Prepared)
}

func TestBuildLifecycleDenied(t *testing.T) {
	submitted := existingOrder()
	submitted[domain.ColDocStatus] = string(domain.DocSubmitted)
	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": submitted}})

	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(3),
	}, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeLifecycleDenied, appErr.Code)
	assert.Contains(t, appErr.Message, apperrors.ReasonSubmittedImmutable)
}

func TestBuildPostingLock(t *testing.T) {
	posted := existingOrder()
	posted[domain.ColDocStatus] = string(domain.DocActive)
	posted[domain.ColPostingStatus] = string(domain.PostingPosted)
	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": posted}})

	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(3),
	}, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeLifecycleDenied, appErr.Code)
	assert.Contains(t, appErr.Message, apperrors.ReasonPostedImmutable)

	// Cancel remains legal on a posted document.
	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.cancel",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		ExpectedVersion: ptr(3),
	}, testContext())
	require.NoError(t, err)
	require.NotNil(t, res.Prepared)
}

func TestBuildPolicyDenied(t *testing.T) {
	b := newBuilder(t, &fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}})
	mctx := testContext()
	mctx.Actor.Permissions = []domain.Permission{
		{EntityType: "sales_order", Verb: "update", Scope: domain.ScopeOrg,
			FieldRules: domain.FieldRules{DenyWrite: []string{"notes"}}},
	}

	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(3),
	}, mctx)
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodePolicyDenied, appErr.Code)
	assert.Contains(t, appErr.Message, apperrors.ReasonDenyField)
}

func TestBuildRateLimited(t *testing.T) {
	b := NewBuilder(
		testRegistry(t),
		handler.NewRegistry(),
		ratelimit.New(1, time.Minute),
		&fakeRows{},
		&fakeReceipts{},
		workflow.NoopEvaluator{},
	)
	spec := domain.MutationSpec{
		ActionType: "sales_order.create",
		EntityRef:  domain.EntityRef{Type: "sales_order"},
		Input:      map[string]any{"currency": "EUR"},
	}

	_, err := b.Build(context.Background(), spec, testContext())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), spec, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeRateLimited, appErr.Code)
	assert.True(t, appErr.Retryable)
	assert.Greater(t, appErr.RetryAfterMs, int64(0))
}

func TestBuildIdempotentReplay(t *testing.T) {
	prior := &domain.Receipt{
		MutationID: "m-prior",
		EntityID:   "so-1",
		EntityType: "sales_order",
		Status:     domain.ReceiptOK,
	}
	b := NewBuilder(
		testRegistry(t),
		handler.NewRegistry(),
		ratelimit.New(100, time.Minute),
		&fakeRows{},
		&fakeReceipts{receipt: prior},
		workflow.NoopEvaluator{},
	)

	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:     "sales_order.create",
		EntityRef:      domain.EntityRef{Type: "sales_order"},
		Input:          map[string]any{"currency": "EUR"},
		IdempotencyKey: "key-1",
	}, testContext())
	require.NoError(t, err)
	require.Nil(t, res.Prepared)
	require.NotNil(t, res.Replayed)
	assert.Equal(t, "m-prior", res.Replayed.MutationID)
}

func TestBuildEditWindowClosed(t *testing.T) {
	wf := &blockingWorkflow{instance: &workflow.Instance{
		DefinitionID: "wf-1",
		BlockedVerbs: []domain.Verb{domain.VerbUpdate},
	}}
	b := NewBuilder(
		testRegistry(t),
		handler.NewRegistry(),
		ratelimit.New(100, time.Minute),
		&fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}},
		&fakeReceipts{},
		wf,
	)

	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(3),
	}, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeLifecycleDenied, appErr.Code)
	assert.Contains(t, appErr.Message, apperrors.ReasonEditWindowClosed)
}

func TestBuildWorkflowVetoAndEnrich(t *testing.T) {
	veto := &blockingWorkflow{decision: &workflow.Decision{BlockReason: "pending approval"}}
	b := NewBuilder(
		testRegistry(t),
		handler.NewRegistry(),
		ratelimit.New(100, time.Minute),
		&fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}},
		&fakeReceipts{},
		veto,
	)
	_, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "x"},
		ExpectedVersion: ptr(3),
	}, testContext())
	appErr, _ := apperrors.IsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeLifecycleDenied, appErr.Code)
	assert.Contains(t, appErr.Message, apperrors.ReasonWorkflowBlocked)

	enrich := &blockingWorkflow{decision: &workflow.Decision{
		Proceed:       true,
		EnrichedInput: map[string]any{"notes": "enriched"},
	}}
	b2 := NewBuilder(
		testRegistry(t),
		handler.NewRegistry(),
		ratelimit.New(100, time.Minute),
		&fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}},
		&fakeReceipts{},
		enrich,
	)
	res, err := b2.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "original"},
		ExpectedVersion: ptr(3),
	}, testContext())
	require.NoError(t, err)
	assert.Equal(t, "enriched", res.Prepared.Input["notes"])
}

func TestBuildPlanHookRuns(t *testing.T) {
	handlers := handler.NewRegistry()
	require.NoError(t, handlers.Register("sales_order", handler.Handler{
		Kind: handler.KindHook,
		Hooks: &handler.Hooks{
			PlanUpdate: func(input, current map[string]any) (map[string]any, error) {
				out := map[string]any{}
				for k, v := range input {
					out[k] = v
				}
				out["notes"] = "hooked"
				return out, nil
			},
		},
	}))
	b := NewBuilder(
		testRegistry(t),
		handlers,
		ratelimit.New(100, time.Minute),
		&fakeRows{rows: map[string]map[string]any{"so-1": existingOrder()}},
		&fakeReceipts{},
		workflow.NoopEvaluator{},
	)

	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType:      "sales_order.update",
		EntityRef:       domain.EntityRef{Type: "sales_order", ID: "so-1"},
		Input:           map[string]any{"notes": "raw"},
		ExpectedVersion: ptr(3),
	}, testContext())
	require.NoError(t, err)
	assert.Equal(t, "hooked", res.Prepared.Input["notes"])
}

func TestBuildSystemPrivilegeKeepsServerOwned(t *testing.T) {
	b := newBuilder(t, &fakeRows{})
	mctx := domain.MutationContext{
		RequestID: "req-1",
		Actor:     domain.ResolvedActor{TenantID: "t1", UserID: domain.SystemActorID},
		Channel:   domain.ChannelBackground,
	}

	res, err := b.Build(context.Background(), domain.MutationSpec{
		ActionType: "sales_order.create",
		EntityRef:  domain.EntityRef{Type: "sales_order"},
		Input: map[string]any{
			"currency": "EUR",
			"total":    float64(250),
		},
	}, mctx)
	require.NoError(t, err)
	assert.Equal(t, float64(250), res.Prepared.Input["total"])
	assert.Empty(t, res.Prepared.StrippedFields)
}
