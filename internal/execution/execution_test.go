package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/graph"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

var (
	userAddr      = fieldaddr.NewCollectionAddress("db", "user")
	ordersAddr    = fieldaddr.NewCollectionAddress("db", "orders")
	shipmentsAddr = fieldaddr.NewCollectionAddress("db", "shipments")
)

func scalar(name string, opts ...func(*dataset.FieldBase)) dataset.Field {
	f := &dataset.ScalarField{FieldBase: dataset.FieldBase{Name: name}}
	for _, opt := range opts {
		opt(&f.FieldBase)
	}
	return f
}

func primaryKey() func(*dataset.FieldBase) {
	return func(b *dataset.FieldBase) { b.PrimaryKey = true }
}

func identity(seedKey string) func(*dataset.FieldBase) {
	return func(b *dataset.FieldBase) { b.Identity = seedKey }
}

func categories(cats ...string) func(*dataset.FieldBase) {
	return func(b *dataset.FieldBase) { b.DataCategories = cats }
}

func refTo(target fieldaddr.FieldAddress) func(*dataset.FieldBase) {
	return func(b *dataset.FieldBase) {
		b.References = append(b.References, dataset.Reference{Target: target, Direction: dataset.DirectionFrom})
	}
}

// chainGraph is user -> orders -> shipments, all served by connection "db".
func chainGraph(t *testing.T, noShipmentPK bool) *graph.Graph {
	t.Helper()
	shipmentFields := []dataset.Field{
		scalar("id", primaryKey()),
		scalar("order_id", refTo(fieldaddr.NewFieldAddress("db", "orders", "id"))),
		scalar("street", categories("user.contact_info.street")),
	}
	if noShipmentPK {
		shipmentFields[0] = scalar("id")
	}
	g, err := graph.Build(context.Background(), []*dataset.Dataset{{
		Name:          "db",
		ConnectionKey: "db",
		Collections: []*dataset.Collection{
			{
				Name: "user",
				Fields: []dataset.Field{
					scalar("id", primaryKey()),
					scalar("email", identity("email"), categories("user.contact_info.email")),
					scalar("name", categories("user.name")),
				},
			},
			{
				Name: "orders",
				Fields: []dataset.Field{
					scalar("id", primaryKey()),
					scalar("user_id", refTo(fieldaddr.NewFieldAddress("db", "user", "id"))),
					scalar("total", categories("user.financial")),
				},
			},
			{
				Name:   "shipments",
				Fields: shipmentFields,
			},
		},
	}})
	require.NoError(t, err)
	return g
}

func chainData() map[fieldaddr.CollectionAddress][]dataset.Row {
	return map[fieldaddr.CollectionAddress][]dataset.Row{
		userAddr: {
			{"id": 1, "email": "a@example.com", "name": "Ann"},
			{"id": 2, "email": "b@example.com", "name": "Bob"},
		},
		ordersAddr: {
			{"id": 10, "user_id": 1, "total": 50},
			{"id": 11, "user_id": 2, "total": 75},
		},
		shipmentsAddr: {
			{"id": 100, "order_id": 10, "street": "1 Main St"},
		},
	}
}

func erasurePolicy(cats ...string) *policy.Policy {
	return &policy.Policy{
		Name: "test",
		Rules: []policy.Rule{{
			Name:            "erase",
			ActionType:      policy.ActionErasure,
			DataCategories:  cats,
			MaskingStrategy: policy.DefaultMaskingStrategy,
		}},
	}
}

// recordingConnector wraps another connector and logs the order of its
// calls.
type recordingConnector struct {
	connector.Connector
	mu        sync.Mutex
	retrieved []string
	masked    []string
}

func (c *recordingConnector) RetrieveData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, input connector.InputData) ([]dataset.Row, error) {
	c.mu.Lock()
	c.retrieved = append(c.retrieved, node.Address.String())
	c.mu.Unlock()
	return c.Connector.RetrieveData(ctx, node, pol, req, input)
}

func (c *recordingConnector) MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, rows []dataset.Row, input connector.InputData) (int, error) {
	c.mu.Lock()
	c.masked = append(c.masked, node.Address.String())
	c.mu.Unlock()
	return c.Connector.MaskData(ctx, node, pol, req, rows, input)
}

func newEngine(conn connector.Connector) (*Engine, checkpoint.Store) {
	registry := connector.NewRegistry()
	registry.Register("db", conn)
	store := checkpoint.NewInMemory()
	return New(registry, store), store
}

func TestRunAccess_Chain(t *testing.T) {
	g := chainGraph(t, false)
	engine, _ := newEngine(connector.NewInMemory(chainData()))

	results, err := engine.RunAccess(context.Background(), "req-1", nil, g, map[string]any{"email": "a@example.com"}, RunOpts{})
	require.NoError(t, err)

	require.Len(t, results[userAddr], 1)
	assert.Equal(t, "Ann", results[userAddr][0]["name"])
	// Only Ann's order flows downstream.
	require.Len(t, results[ordersAddr], 1)
	assert.Equal(t, 10, results[ordersAddr][0]["id"])
	require.Len(t, results[shipmentsAddr], 1)
	assert.Equal(t, "1 Main St", results[shipmentsAddr][0]["street"])
}

func TestRunAccess_GeneratesRequestID(t *testing.T) {
	g := chainGraph(t, false)
	engine, _ := newEngine(connector.NewInMemory(chainData()))

	_, err := engine.RunAccess(context.Background(), "", nil, g, map[string]any{"email": "a@example.com"}, RunOpts{})
	require.NoError(t, err)
}

func TestRunAccess_SkipsCollectionWithoutInput(t *testing.T) {
	g := chainGraph(t, false)
	data := chainData()
	// No order belongs to Bob's shipment chain beyond orders.
	engine, _ := newEngine(connector.NewInMemory(data))

	results, err := engine.RunAccess(context.Background(), "req-skip", nil, g, map[string]any{"email": "b@example.com"}, RunOpts{})
	require.NoError(t, err)

	require.Len(t, results[ordersAddr], 1)
	// Order 11 has no shipment, so the shipment lookup finds nothing.
	assert.Empty(t, results[shipmentsAddr])
}

func TestRunAccess_FailureCheckpoints(t *testing.T) {
	g := chainGraph(t, false)
	engine, store := newEngine(&haltingConnector{failOn: ordersAddr})

	_, err := engine.RunAccess(context.Background(), "req-fail", nil, g, map[string]any{"email": "a@example.com"}, RunOpts{})

	var failed *FailedRequestError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "req-fail", failed.RequestID)
	assert.Equal(t, checkpoint.StepAccess, failed.Step)
	assert.Equal(t, "db:orders", failed.Collection)

	var record checkpoint.ActionRequired
	ok, storeErr := checkpoint.GetJSON(context.Background(), store, checkpoint.CheckpointKey("req-fail"), &record)
	require.NoError(t, storeErr)
	require.True(t, ok)
	assert.Equal(t, checkpoint.StepAccess, record.Step)
	assert.Equal(t, "db:orders", record.Collection)
	assert.Empty(t, record.ActionsNeeded)
}

// haltingConnector serves chainData but fails or pauses on one collection.
type haltingConnector struct {
	failOn  fieldaddr.CollectionAddress
	pauseOn fieldaddr.CollectionAddress
	backing *connector.InMemory
	once    sync.Once
}

func (c *haltingConnector) init() {
	c.once.Do(func() { c.backing = connector.NewInMemory(chainData()) })
}

func (c *haltingConnector) RetrieveData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, input connector.InputData) ([]dataset.Row, error) {
	c.init()
	if node.Address == c.failOn {
		return nil, errors.New("backend exploded")
	}
	if node.Address == c.pauseOn {
		return nil, connector.Pause(checkpoint.ManualAction{Get: []string{"total"}})
	}
	return c.backing.RetrieveData(ctx, node, pol, req, input)
}

func (c *haltingConnector) MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, rows []dataset.Row, input connector.InputData) (int, error) {
	c.init()
	if node.Address == c.failOn {
		return 0, errors.New("backend exploded")
	}
	if node.Address == c.pauseOn {
		return 0, connector.Pause(checkpoint.ManualAction{Update: map[string]any{"total": nil}})
	}
	return c.backing.MaskData(ctx, node, pol, req, rows, input)
}

func (c *haltingConnector) TestConnection(context.Context) error { return nil }

func TestRunAccess_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t, false)

	store := checkpoint.NewInMemory()
	manual := connector.NewManual(store)
	backing := &recordingConnector{Connector: connector.NewInMemory(chainData())}

	registry := connector.NewRegistry()
	registry.Register("db", &routingConnector{manualOn: ordersAddr, manual: manual, rest: backing})
	engine := New(registry, store)

	seeds := map[string]any{"email": "a@example.com"}
	_, err := engine.RunAccess(ctx, "req-pause", nil, g, seeds, RunOpts{})

	var paused *PausedRequestError
	require.ErrorAs(t, err, &paused)
	assert.Equal(t, checkpoint.StepAccess, paused.Record.Step)
	assert.Equal(t, "db:orders", paused.Record.Collection)
	require.Len(t, paused.Record.ActionsNeeded, 1)

	// The operator answers and the run resumes.
	require.NoError(t, manual.StageRows(ctx, "req-pause", ordersAddr, []dataset.Row{{"id": 10, "user_id": 1, "total": 50}}))

	results, err := engine.RunAccess(ctx, "req-pause", nil, g, seeds, RunOpts{FromPaused: true})
	require.NoError(t, err)

	require.Len(t, results[ordersAddr], 1)
	require.Len(t, results[shipmentsAddr], 1)
	// The user collection completed before the pause; its cached rows are
	// reused instead of retrieved again.
	assert.Equal(t, []string{"db:user", "db:shipments"}, backing.retrieved)

	// A completed run leaves no checkpoint behind.
	_, found, storeErr := store.Get(ctx, checkpoint.CheckpointKey("req-pause"))
	require.NoError(t, storeErr)
	assert.False(t, found)
}

// routingConnector sends one collection to the manual connector and the
// rest to a backing one.
type routingConnector struct {
	manualOn fieldaddr.CollectionAddress
	manual   *connector.Manual
	rest     connector.Connector
}

func (c *routingConnector) pick(node *traversal.Node) connector.Connector {
	if node.Address == c.manualOn {
		return c.manual
	}
	return c.rest
}

func (c *routingConnector) RetrieveData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, input connector.InputData) ([]dataset.Row, error) {
	return c.pick(node).RetrieveData(ctx, node, pol, req, input)
}

func (c *routingConnector) MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, rows []dataset.Row, input connector.InputData) (int, error) {
	return c.pick(node).MaskData(ctx, node, pol, req, rows, input)
}

func (c *routingConnector) TestConnection(context.Context) error { return nil }

// forkGraph is two seeded, unrelated collections a and b on connection
// "db", so both run as roots of the same pool.
func forkGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Build(context.Background(), []*dataset.Dataset{{
		Name:          "db",
		ConnectionKey: "db",
		Collections: []*dataset.Collection{
			{
				Name: "a",
				Fields: []dataset.Field{
					scalar("id", primaryKey()),
					scalar("email", identity("email")),
				},
			},
			{
				Name: "b",
				Fields: []dataset.Field{
					scalar("id", primaryKey()),
					scalar("uid", identity("uid")),
				},
			},
		},
	}})
	require.NoError(t, err)
	return g
}

// pausingSiblingConnector pauses on one collection once the other has
// started its retrieval, and lets that sibling observe whether its context
// survived the pause.
type pausingSiblingConnector struct {
	pauseOn fieldaddr.CollectionAddress
	started chan struct{}
	release chan struct{}

	mu            sync.Mutex
	siblingCtxErr error
}

func (c *pausingSiblingConnector) RetrieveData(ctx context.Context, node *traversal.Node, _ *policy.Policy, _ connector.RequestContext, _ connector.InputData) ([]dataset.Row, error) {
	if node.Address == c.pauseOn {
		<-c.started
		close(c.release)
		return nil, connector.Pause(checkpoint.ManualAction{Get: []string{"id"}})
	}
	close(c.started)
	<-c.release
	c.mu.Lock()
	c.siblingCtxErr = ctx.Err()
	c.mu.Unlock()
	return []dataset.Row{{"id": 1}}, nil
}

func (c *pausingSiblingConnector) MaskData(context.Context, *traversal.Node, *policy.Policy, connector.RequestContext, []dataset.Row, connector.InputData) (int, error) {
	return 0, nil
}

func (c *pausingSiblingConnector) TestConnection(context.Context) error { return nil }

func TestRunAccess_PauseLetsInFlightSiblingFinish(t *testing.T) {
	ctx := context.Background()
	g := forkGraph(t)
	conn := &pausingSiblingConnector{
		pauseOn: fieldaddr.NewCollectionAddress("db", "a"),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine, store := newEngine(conn)

	_, err := engine.RunAccess(ctx, "req-sib", nil, g,
		map[string]any{"email": "a@example.com", "uid": "u-1"}, RunOpts{Workers: 2})

	// The pause wins even though another collection was mid-retrieval.
	var paused *PausedRequestError
	require.ErrorAs(t, err, &paused)
	assert.Equal(t, "db:a", paused.Record.Collection)
	require.Len(t, paused.Record.ActionsNeeded, 1)

	// The in-flight sibling was neither cancelled nor discarded.
	conn.mu.Lock()
	assert.NoError(t, conn.siblingCtxErr)
	conn.mu.Unlock()
	var rows []dataset.Row
	ok, storeErr := checkpoint.GetJSON(ctx, store,
		checkpoint.AccessResultKey("req-sib", "db:b"), &rows)
	require.NoError(t, storeErr)
	require.True(t, ok)
	assert.Len(t, rows, 1)
}

func TestRunAccess_NodeTimeout(t *testing.T) {
	g := chainGraph(t, false)
	engine, _ := newEngine(&blockingConnector{})

	_, err := engine.RunAccess(context.Background(), "req-timeout", nil, g,
		map[string]any{"email": "a@example.com"}, RunOpts{NodeTimeout: 20 * time.Millisecond})

	var failed *FailedRequestError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingConnector struct{}

func (c *blockingConnector) RetrieveData(ctx context.Context, _ *traversal.Node, _ *policy.Policy, _ connector.RequestContext, _ connector.InputData) ([]dataset.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *blockingConnector) MaskData(ctx context.Context, _ *traversal.Node, _ *policy.Policy, _ connector.RequestContext, _ []dataset.Row, _ connector.InputData) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (c *blockingConnector) TestConnection(context.Context) error { return nil }

func TestRunErasure_ReverseOrder(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t, false)
	rec := &recordingConnector{Connector: connector.NewInMemory(chainData())}
	engine, _ := newEngine(rec)
	seeds := map[string]any{"email": "a@example.com"}

	access, err := engine.RunAccess(ctx, "req-erase", nil, g, seeds, RunOpts{})
	require.NoError(t, err)

	counts, err := engine.RunErasure(ctx, "req-erase", erasurePolicy("user"), g, seeds, access, RunOpts{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, map[fieldaddr.CollectionAddress]int{userAddr: 1, ordersAddr: 1, shipmentsAddr: 1}, counts)
	// Consumers are masked before the collections feeding them.
	assert.Equal(t, []string{"db:shipments", "db:orders", "db:user"}, rec.masked)
}

func TestRunErasure_MasksTargetedFields(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t, false)
	mem := connector.NewInMemory(chainData())
	engine, _ := newEngine(mem)
	seeds := map[string]any{"email": "a@example.com"}

	access, err := engine.RunAccess(ctx, "req-mask", nil, g, seeds, RunOpts{})
	require.NoError(t, err)

	_, err = engine.RunErasure(ctx, "req-mask", erasurePolicy("user.contact_info"), g, seeds, access, RunOpts{})
	require.NoError(t, err)

	users := mem.Rows(userAddr)
	assert.Nil(t, users[0]["email"])
	// Untargeted categories survive.
	assert.Equal(t, "Ann", users[0]["name"])
	// Bob was never part of the request.
	assert.Equal(t, "b@example.com", users[1]["email"])
}

func TestRunErasure_SkipsEmptyAndNoPK(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t, true)
	rec := &recordingConnector{Connector: connector.NewInMemory(chainData())}
	engine, _ := newEngine(rec)
	seeds := map[string]any{"email": "b@example.com"}

	access, err := engine.RunAccess(ctx, "req-skips", nil, g, seeds, RunOpts{})
	require.NoError(t, err)
	require.Empty(t, access[shipmentsAddr])

	counts, err := engine.RunErasure(ctx, "req-skips", erasurePolicy("user"), g, seeds, access, RunOpts{})
	require.NoError(t, err)

	// Shipments has no rows (and no primary key either); nothing is masked
	// there and the rest of the chain still runs.
	assert.Equal(t, 0, counts[shipmentsAddr])
	assert.Equal(t, 1, counts[ordersAddr])
	assert.NotContains(t, rec.masked, "db:shipments")
}

func TestRunErasure_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t, false)

	store := checkpoint.NewInMemory()
	manual := connector.NewManual(store)
	backing := &recordingConnector{Connector: connector.NewInMemory(chainData())}

	registry := connector.NewRegistry()
	registry.Register("db", &routingConnector{manualOn: userAddr, manual: manual, rest: backing})
	engine := New(registry, store)
	seeds := map[string]any{"email": "a@example.com"}

	// Stage the access answer up front so the access phase completes and
	// only the erasure phase pauses.
	require.NoError(t, manual.StageRows(ctx, "req-ep", userAddr, chainData()[userAddr][:1]))
	access, err := engine.RunAccess(ctx, "req-ep", nil, g, seeds, RunOpts{})
	require.NoError(t, err)

	_, err = engine.RunErasure(ctx, "req-ep", erasurePolicy("user"), g, seeds, access, RunOpts{})
	var paused *PausedRequestError
	require.ErrorAs(t, err, &paused)
	assert.Equal(t, checkpoint.StepErasure, paused.Record.Step)
	assert.Equal(t, "db:user", paused.Record.Collection)

	require.NoError(t, manual.StageMaskedCount(ctx, "req-ep", userAddr, 1))
	counts, err := engine.RunErasure(ctx, "req-ep", erasurePolicy("user"), g, seeds, access, RunOpts{FromPaused: true})
	require.NoError(t, err)

	assert.Equal(t, 1, counts[userAddr])
	// Downstream collections were masked before the pause; the resumed run
	// reuses their cached counts.
	assert.Equal(t, []string{"db:shipments", "db:orders"}, backing.masked)
}

func TestRunAccess_ResumeWithoutSnapshotRerunsEverything(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t, false)
	rec := &recordingConnector{Connector: connector.NewInMemory(chainData())}
	engine, store := newEngine(rec)
	seeds := map[string]any{"email": "a@example.com"}

	_, err := engine.RunAccess(ctx, "req-nosnap", nil, g, seeds, RunOpts{})
	require.NoError(t, err)
	firstCalls := len(rec.retrieved)

	require.NoError(t, store.Delete(ctx, checkpoint.GraphSnapshotKey("req-nosnap")))

	_, err = engine.RunAccess(ctx, "req-nosnap", nil, g, seeds, RunOpts{FromPaused: true})
	require.NoError(t, err)
	// Without a snapshot the cached outputs cannot be trusted.
	assert.Len(t, rec.retrieved, 2*firstCalls)
}

func TestRunAccess_Cancellation(t *testing.T) {
	g := chainGraph(t, false)
	engine, _ := newEngine(&blockingConnector{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := engine.RunAccess(ctx, "req-cancel", nil, g, map[string]any{"email": "a@example.com"}, RunOpts{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
