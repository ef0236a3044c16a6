package relationships

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/entities"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const linkCode = "ACME.CORE.REL.v1"

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	ents  *entities.Service
	org   uuid.UUID
	ctx   context.Context
	audit *shared.MemoryAuditLog
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	org := uuid.New()
	repo := NewMemoryRepository()
	ents := entities.NewService(entities.NewMemoryRepository(), nil, nil)
	audit := shared.NewMemoryAuditLog()
	return fixture{
		svc:   NewService(repo, ents, nil, audit, nil),
		repo:  repo,
		ents:  ents,
		org:   org,
		ctx:   shared.WithTenant(context.Background(), org),
		audit: audit,
	}
}

func (f fixture) entity(t *testing.T, name string) uuid.UUID {
	t.Helper()
	e, err := f.ents.CreateEntity(f.ctx, entities.CreateEntityInput{OrgID: f.org, Type: "ACCOUNT", Name: name, SmartCode: "ACME.FIN.GL.ASSET.v1"})
	require.NoError(t, err)
	return e.ID
}

func TestLinkIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a, b := f.entity(t, "a"), f.entity(t, "b")

	first, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: b, Type: "peer_of", SmartCode: linkCode})
	require.NoError(t, err)
	strength := 0.5
	second, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: b, Type: "PEER_OF", Strength: &strength, SmartCode: linkCode})
	require.NoError(t, err)

	assert.Equal(t, 1, f.repo.Count())
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.5, second.Strength, 1e-9)
	assert.InDelta(t, 1.0, first.Strength, 1e-9)
	assert.Len(t, f.audit.Entries(f.org), 2)
}

func TestHierarchyRejectsCycles(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.entity(t, "a"), f.entity(t, "b"), f.entity(t, "c")

	_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: b, Type: TypeParentOf, SmartCode: linkCode})
	require.NoError(t, err)
	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: b, ToID: c, Type: TypeParentOf, SmartCode: linkCode})
	require.NoError(t, err)

	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: c, ToID: a, Type: TypeParentOf, SmartCode: linkCode})
	assert.True(t, shared.IsKind(err, shared.KindValidation), "got %v", err)

	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: a, Type: TypeParentOf, SmartCode: linkCode})
	assert.True(t, shared.IsKind(err, shared.KindValidation))

	// non-hierarchy types may cycle
	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: c, ToID: a, Type: TypePeer, SmartCode: linkCode})
	require.NoError(t, err)

	ancestors, err := f.svc.Ancestors(f.ctx, f.org, c, TypeParentOf)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b, a}, ancestors)
}

func TestUnlinkAllowsReparenting(t *testing.T) {
	f := newFixture(t)
	a, b := f.entity(t, "a"), f.entity(t, "b")

	_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: b, Type: TypeAccountParent, SmartCode: linkCode})
	require.NoError(t, err)
	require.NoError(t, f.svc.Unlink(f.ctx, f.org, a, b, TypeAccountParent))

	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: b, ToID: a, Type: TypeAccountParent, SmartCode: linkCode})
	require.NoError(t, err)

	err = f.svc.Unlink(f.ctx, f.org, a, b, TypeAccountParent)
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestNeighborsDirection(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.entity(t, "a"), f.entity(t, "b"), f.entity(t, "c")
	_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: b, Type: TypeOwns, SmartCode: linkCode})
	require.NoError(t, err)
	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: c, ToID: a, Type: TypeAssignedTo, SmartCode: linkCode})
	require.NoError(t, err)

	out, err := f.svc.Neighbors(f.ctx, f.org, a, "", Outgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b, out[0].ToID)

	in, err := f.svc.Neighbors(f.ctx, f.org, a, "", Incoming)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c, in[0].FromID)

	both, err := f.svc.Neighbors(f.ctx, f.org, a, "", Both)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = f.svc.Neighbors(f.ctx, f.org, a, "", Direction("sideways"))
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestLinkRequiresKnownEntitiesInTenant(t *testing.T) {
	f := newFixture(t)
	a := f.entity(t, "a")

	_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: uuid.New(), Type: TypePeer, SmartCode: linkCode})
	assert.True(t, shared.IsKind(err, shared.KindNotFound))

	other := uuid.New()
	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: other, FromID: a, ToID: a, Type: TypePeer, SmartCode: linkCode})
	assert.True(t, shared.IsKind(err, shared.KindTenant))

	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: a, ToID: a, Type: TypePeer, SmartCode: "bad"})
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestHierarchyDepthBound(t *testing.T) {
	f := newFixture(t)
	ids := make([]uuid.UUID, MaxAncestorDepth+2)
	for i := range ids {
		ids[i] = f.entity(t, fmt.Sprintf("n%d", i))
	}
	for i := 0; i < MaxAncestorDepth; i++ {
		_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: ids[i], ToID: ids[i+1], Type: TypeReportsTo, SmartCode: linkCode})
		require.NoError(t, err, "link %d", i)
	}
	_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: ids[MaxAncestorDepth], ToID: ids[MaxAncestorDepth+1], Type: TypeReportsTo, SmartCode: linkCode})
	assert.True(t, shared.IsKind(err, shared.KindValidation), "got %v", err)
}

func TestEdgesListsActiveEdgesOfType(t *testing.T) {
	f := newFixture(t)
	root, child, other := f.entity(t, "root"), f.entity(t, "child"), f.entity(t, "other")

	_, err := f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: root, ToID: child, Type: TypeAccountParent, SmartCode: linkCode})
	require.NoError(t, err)
	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: root, ToID: other, Type: TypeAccountParent, SmartCode: linkCode})
	require.NoError(t, err)
	_, err = f.svc.Link(f.ctx, LinkInput{OrgID: f.org, FromID: child, ToID: other, Type: "PEER_OF", SmartCode: linkCode})
	require.NoError(t, err)
	require.NoError(t, f.svc.Unlink(f.ctx, f.org, root, other, TypeAccountParent))

	edges, err := f.svc.Edges(f.ctx, f.org, "account_parent")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, child, edges[0].ToID)

	_, err = f.svc.Edges(shared.WithTenant(context.Background(), uuid.New()), f.org, TypeAccountParent)
	assert.Equal(t, shared.KindTenant, shared.KindOf(err))
}
