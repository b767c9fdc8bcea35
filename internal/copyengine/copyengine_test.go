package copyengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

func TestWalkCascadeClosure_DirectCascadeOutsideSafeSetFails(t *testing.T) {
	lookup := func(ctx context.Context, schema, table string) ([]cascadeEdge, error) {
		if schema == "public" && table == "orders" {
			return []cascadeEdge{{Schema: "public", Table: "order_items", Cascades: true}}, nil
		}
		return nil, nil
	}

	err := walkCascadeClosure(context.Background(), lookup, "public", "orders", map[string]bool{}, map[string]bool{})
	require.Error(t, err)
	assert.Equal(t, errkind.CascadeDataLoss, errkind.Of(err))
}

func TestWalkCascadeClosure_CascadeIntoSafeSetSucceeds(t *testing.T) {
	lookup := func(ctx context.Context, schema, table string) ([]cascadeEdge, error) {
		if schema == "public" && table == "orders" {
			return []cascadeEdge{{Schema: "public", Table: "order_items", Cascades: true}}, nil
		}
		return nil, nil
	}

	safeSet := map[string]bool{"public.order_items": true}
	err := walkCascadeClosure(context.Background(), lookup, "public", "orders", safeSet, map[string]bool{})
	assert.NoError(t, err)
}

func TestWalkCascadeClosure_NonCascadingEdgeIsIgnored(t *testing.T) {
	lookup := func(ctx context.Context, schema, table string) ([]cascadeEdge, error) {
		return []cascadeEdge{{Schema: "public", Table: "audit_log", Cascades: false}}, nil
	}

	err := walkCascadeClosure(context.Background(), lookup, "public", "users", map[string]bool{}, map[string]bool{})
	assert.NoError(t, err)
}

func TestWalkCascadeClosure_TransitiveCascadeDetected(t *testing.T) {
	// orders -> order_items (cascade) -> shipment_lines (cascade, outside safe set)
	lookup := func(ctx context.Context, schema, table string) ([]cascadeEdge, error) {
		switch table {
		case "orders":
			return []cascadeEdge{{Schema: "public", Table: "order_items", Cascades: true}}, nil
		case "order_items":
			return []cascadeEdge{{Schema: "public", Table: "shipment_lines", Cascades: true}}, nil
		default:
			return nil, nil
		}
	}

	safeSet := map[string]bool{"public.order_items": true}
	err := walkCascadeClosure(context.Background(), lookup, "public", "orders", safeSet, map[string]bool{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shipment_lines")
}

func TestWalkCascadeClosure_VisitedTableIsNotReprocessed(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, schema, table string) ([]cascadeEdge, error) {
		calls++
		if table == "a" {
			return []cascadeEdge{
				{Schema: "public", Table: "b", Cascades: true},
				{Schema: "public", Table: "b", Cascades: true},
			}, nil
		}
		return nil, nil
	}

	safeSet := map[string]bool{"public.b": true}
	err := walkCascadeClosure(context.Background(), lookup, "public", "a", safeSet, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls) // "a" once, "b" once (second edge to "b" is already visited)
}
