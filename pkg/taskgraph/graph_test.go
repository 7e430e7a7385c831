package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New([]*SubTask{
		{ID: "research", Role: RoleResearcher, Description: "gather sources"},
		{ID: "analyze", Role: RoleAnalyst, Description: "analyze findings", DependsOn: []string{"research"}},
		{ID: "critique", Role: RoleCritic, Description: "review analysis", DependsOn: []string{"analyze"}},
	})
	require.NoError(t, err)
	return g
}

func TestParseRoleClosedSet(t *testing.T) {
	for _, valid := range []string{"researcher", "coder", "analyst", "critic"} {
		_, err := ParseRole(valid)
		assert.NoError(t, err)
	}
	_, err := ParseRole("wizard")
	assert.Error(t, err)
}

func TestNewRejectsCycles(t *testing.T) {
	_, err := New([]*SubTask{
		{ID: "a", Role: RoleResearcher, DependsOn: []string{"b"}},
		{ID: "b", Role: RoleAnalyst, DependsOn: []string{"a"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestNewRejectsUnknownDependency(t *testing.T) {
	_, err := New([]*SubTask{
		{ID: "a", Role: RoleResearcher, DependsOn: []string{"ghost"}},
	})
	assert.Error(t, err)
}

func TestNewRejectsSelfDependency(t *testing.T) {
	_, err := New([]*SubTask{
		{ID: "a", Role: RoleResearcher, DependsOn: []string{"a"}},
	})
	assert.Error(t, err)
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]*SubTask{
		{ID: "a", Role: RoleResearcher},
		{ID: "a", Role: RoleAnalyst},
	})
	assert.Error(t, err)
}

func TestReadyRespectsDependencies(t *testing.T) {
	g := chainGraph(t)

	ready := g.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "research", ready[0].ID)

	require.NoError(t, g.MarkRunning("research"))
	assert.Empty(t, g.Ready())

	g.MarkDone("research", "sources collected")
	ready = g.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "analyze", ready[0].ID)
}

func TestMarkRunningRejectsUnresolvedDependencies(t *testing.T) {
	g := chainGraph(t)
	err := g.MarkRunning("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved dependency")
}

func TestFailedDependencyBlocksDependents(t *testing.T) {
	g, err := New([]*SubTask{
		{ID: "research", Role: RoleResearcher},
		{ID: "analyze", Role: RoleAnalyst, DependsOn: []string{"research"}},
		{ID: "critique", Role: RoleCritic, DependsOn: []string{"analyze"}},
		{ID: "sidebar", Role: RoleResearcher},
	})
	require.NoError(t, err)

	require.NoError(t, g.MarkRunning("research"))
	g.MarkFailed("research", "no sources found")

	analyze, _ := g.Get("analyze")
	assert.Equal(t, StatusBlocked, analyze.Status)

	critique, _ := g.Get("critique")
	assert.Equal(t, StatusBlocked, critique.Status, "blocking cascades down the chain")

	sidebar, _ := g.Get("sidebar")
	assert.Equal(t, StatusPending, sidebar.Status, "independent branches continue")
	require.Len(t, g.Ready(), 1)
	assert.Equal(t, "sidebar", g.Ready()[0].ID)
}

func TestTerminal(t *testing.T) {
	g := chainGraph(t)
	assert.False(t, g.Terminal())

	require.NoError(t, g.MarkRunning("research"))
	g.MarkFailed("research", "boom")
	assert.True(t, g.Terminal(), "failed root blocks the whole chain")
}

func TestAllPreservesPlanOrder(t *testing.T) {
	g := chainGraph(t)
	all := g.All()
	require.Len(t, all, 3)
	assert.Equal(t, "research", all[0].ID)
	assert.Equal(t, "critique", all[2].ID)
}
