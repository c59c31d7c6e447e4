package comments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(id, parentID string, status Status, minute int) Record {
	root := id
	if parentID != "" {
		root = "root"
	}
	created := base.Add(time.Duration(minute) * time.Minute)
	return Record{
		ID:         id,
		Body:       "body " + id,
		Visibility: VisibilityPublic,
		Status:     status,
		AuthorID:   "author-" + id,
		Author:     &Author{ID: "author-" + id, Name: "User " + id},
		ParentID:   parentID,
		RootID:     root,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.ID)
	}
	return out
}

func TestDeletedLeafIsPruned(t *testing.T) {
	records := []Record{
		rec("A", "", StatusActive, 0),
		rec("B", "A", StatusDeleted, 1),
		rec("C", "A", StatusActive, 2),
	}
	tree := BuildTree(records, Viewer{})

	require.Len(t, tree.Roots, 1)
	assert.Equal(t, []string{"C"}, ids(tree.Roots[0].Replies))
	assert.Equal(t, 0, tree.HiddenCount)
}

func TestDeletedParentWithActiveReplyBecomesTombstone(t *testing.T) {
	a := rec("A", "", StatusDeleted, 0)
	a.Attachments = []Attachment{{ID: "att", UploadID: "up", Filename: "notes.pdf"}}
	records := []Record{a, rec("B", "A", StatusActive, 1)}

	tree := BuildTree(records, Viewer{UserID: "someone"})

	require.Len(t, tree.Roots, 1)
	root := tree.Roots[0]
	assert.Equal(t, StatusDeleted, root.Status)
	assert.Empty(t, root.Body)
	assert.Empty(t, root.Attachments)
	assert.False(t, root.CanEdit)
	assert.Equal(t, []string{"B"}, ids(root.Replies))
}

func TestDeletedChainKeptOnlyForVisibleLeaf(t *testing.T) {
	records := []Record{
		rec("A", "", StatusDeleted, 0),
		rec("B", "A", StatusDeleted, 1),
		rec("C", "B", StatusActive, 2),
		rec("D", "", StatusDeleted, 3),
		rec("E", "D", StatusDeleted, 4),
	}
	tree := BuildTree(records, Viewer{})

	assert.Equal(t, []string{"A"}, ids(tree.Roots))
	require.Len(t, tree.Roots[0].Replies, 1)
	assert.Equal(t, []string{"C"}, ids(tree.Roots[0].Replies[0].Replies))
}

func TestAdminSeesTombstoneBody(t *testing.T) {
	records := []Record{rec("A", "", StatusDeleted, 0), rec("B", "A", StatusActive, 1)}
	tree := BuildTree(records, Viewer{UserID: "admin", IsAdmin: true})

	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "body A", tree.Roots[0].Body)
	assert.True(t, tree.Roots[0].CanModerate)
}

func TestLoggedInOnlyHiddenFromVisitors(t *testing.T) {
	private := rec("A", "", StatusActive, 0)
	private.Visibility = VisibilityLoggedInOnly

	visitor := BuildTree([]Record{private}, Viewer{})
	assert.Empty(t, visitor.Roots)
	assert.Equal(t, 1, visitor.HiddenCount)

	member := BuildTree([]Record{private}, Viewer{UserID: "u1"})
	assert.Len(t, member.Roots, 1)
	assert.Equal(t, 0, member.HiddenCount)
}

func TestHiddenCountSkipsDeletedRows(t *testing.T) {
	deleted := rec("A", "", StatusDeleted, 0)
	deleted.Visibility = VisibilityLoggedInOnly
	reply := rec("B", "A", StatusActive, 1)
	reply.Visibility = VisibilityLoggedInOnly
	banned := rec("C", "", StatusSoftbanned, 2)
	banned.Visibility = VisibilityLoggedInOnly

	tree := BuildTree([]Record{deleted, reply, banned}, Viewer{})

	assert.Empty(t, tree.Roots)
	assert.Equal(t, 2, tree.HiddenCount)
}

func TestHiddenCountIncludesSoftbannedLoginOnlyRows(t *testing.T) {
	banned := rec("A", "", StatusSoftbanned, 0)
	banned.Visibility = VisibilityLoggedInOnly

	anonymous := BuildTree([]Record{banned}, Viewer{})
	assert.Empty(t, anonymous.Roots)
	assert.Equal(t, 1, anonymous.HiddenCount)

	member := BuildTree([]Record{banned}, Viewer{UserID: "stranger"})
	assert.Empty(t, member.Roots)
	assert.Equal(t, 0, member.HiddenCount)
}

func TestSoftbannedMaskedForOthers(t *testing.T) {
	banned := rec("A", "", StatusSoftbanned, 0)

	other := BuildTree([]Record{banned}, Viewer{UserID: "stranger"})
	assert.Empty(t, other.Roots)

	author := BuildTree([]Record{banned}, Viewer{UserID: "author-A"})
	require.Len(t, author.Roots, 1)
	assert.Equal(t, StatusSoftbanned, author.Roots[0].Status)
	assert.True(t, author.Roots[0].IsAuthor)
	assert.True(t, author.Roots[0].CanEdit)

	admin := BuildTree([]Record{banned}, Viewer{UserID: "mod", IsAdmin: true})
	require.Len(t, admin.Roots, 1)
	assert.Equal(t, StatusSoftbanned, admin.Roots[0].Status)
}

func TestSoftbannedStatusReportedActiveWhenRetainedForOthers(t *testing.T) {
	row := &Record{ID: "A", Status: StatusSoftbanned, AuthorID: "x", Visibility: VisibilityPublic}
	node := present(row, Viewer{UserID: "y"}, false)
	assert.Equal(t, StatusActive, node.Status)
}

func TestAnonymousAuthorRedaction(t *testing.T) {
	anon := rec("A", "", StatusActive, 0)
	anon.Visibility = VisibilityAnonymous
	flagged := rec("B", "", StatusActive, 1)
	flagged.IsAnonymous = true

	tree := BuildTree([]Record{anon, flagged}, Viewer{UserID: "u"})
	for _, node := range tree.Roots {
		assert.Nil(t, node.Author, node.ID)
		assert.True(t, node.AuthorHidden, node.ID)
	}

	admin := BuildTree([]Record{anon, flagged}, Viewer{UserID: "mod", IsAdmin: true})
	for _, node := range admin.Roots {
		require.NotNil(t, node.Author, node.ID)
		assert.False(t, node.AuthorHidden, node.ID)
	}
}

func TestGuestAuthorSummary(t *testing.T) {
	guest := rec("A", "", StatusActive, 0)
	guest.AuthorID = ""
	guest.Author = nil
	guest.AuthorName = "Visitor"

	tree := BuildTree([]Record{guest}, Viewer{})
	require.Len(t, tree.Roots, 1)
	require.NotNil(t, tree.Roots[0].Author)
	assert.True(t, tree.Roots[0].Author.IsGuest)
	assert.Equal(t, "Visitor", tree.Roots[0].Author.Name)
	assert.False(t, tree.Roots[0].CanReply)
}

func TestVerifiedAuthorsSortFirst(t *testing.T) {
	early := rec("A", "", StatusActive, 0)
	late := rec("B", "", StatusActive, 5)
	late.Author.IsVerified = true
	middle := rec("C", "", StatusActive, 2)

	tree := BuildTree([]Record{early, late, middle}, Viewer{})
	assert.Equal(t, []string{"B", "A", "C"}, ids(tree.Roots))
}

func TestEqualTimestampsKeepInputOrder(t *testing.T) {
	first := rec("X", "", StatusActive, 0)
	second := rec("Y", "", StatusActive, 0)
	third := rec("Z", "", StatusActive, 0)

	tree := BuildTree([]Record{first, second, third}, Viewer{})
	assert.Equal(t, []string{"X", "Y", "Z"}, ids(tree.Roots))
}

func TestRepliesSortedByCreatedAt(t *testing.T) {
	records := []Record{
		rec("A", "", StatusActive, 0),
		rec("C", "A", StatusActive, 9),
		rec("B", "A", StatusActive, 3),
	}
	tree := BuildTree(records, Viewer{})
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, []string{"B", "C"}, ids(tree.Roots[0].Replies))
}

func TestDanglingParentPromotedToRoot(t *testing.T) {
	orphan := rec("B", "missing", StatusActive, 1)
	tree := BuildTree([]Record{rec("A", "", StatusActive, 0), orphan}, Viewer{})
	assert.Equal(t, []string{"A", "B"}, ids(tree.Roots))
}

func TestReplyUnderExcludedParentPromoted(t *testing.T) {
	banned := rec("A", "", StatusSoftbanned, 0)
	reply := rec("B", "A", StatusActive, 1)
	tree := BuildTree([]Record{banned, reply}, Viewer{UserID: "u"})
	assert.Equal(t, []string{"B"}, ids(tree.Roots))
}

func TestCyclicParentsTerminate(t *testing.T) {
	a := rec("A", "B", StatusDeleted, 0)
	b := rec("B", "A", StatusDeleted, 1)
	c := rec("C", "A", StatusActive, 2)

	tree := BuildTree([]Record{a, b, c}, Viewer{})

	require.NotEmpty(t, tree.Roots)
	count := 0
	Walk(tree.Roots, func(*Node) { count++ })
	assert.LessOrEqual(t, count, 3)
	assert.NotNil(t, FindNode(tree.Roots, "C"))
}

func TestActiveCycleMembersBecomeRoots(t *testing.T) {
	a := rec("A", "B", StatusActive, 0)
	b := rec("B", "A", StatusActive, 1)

	tree := BuildTree([]Record{a, b}, Viewer{})

	assert.Equal(t, []string{"A", "B"}, ids(tree.Roots))
	assert.Empty(t, tree.Roots[0].Replies)
	assert.Empty(t, tree.Roots[1].Replies)
}

func TestEveryRetainedNodeReachesARoot(t *testing.T) {
	records := []Record{
		rec("A", "", StatusActive, 0),
		rec("B", "A", StatusActive, 1),
		rec("C", "B", StatusActive, 2),
		rec("D", "C", StatusDeleted, 3),
		rec("E", "D", StatusActive, 4),
	}
	tree := BuildTree(records, Viewer{})

	depth := map[string]int{}
	var visit func(nodes []*Node, d int)
	visit = func(nodes []*Node, d int) {
		for _, node := range nodes {
			depth[node.ID] = d
			visit(node.Replies, d+1)
		}
	}
	visit(tree.Roots, 0)
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2, "D": 3, "E": 4}, depth)
}

func TestViewerFlags(t *testing.T) {
	own := rec("A", "", StatusActive, 0)
	tree := BuildTree([]Record{own}, Viewer{UserID: "author-A"})
	require.Len(t, tree.Roots, 1)
	node := tree.Roots[0]
	assert.True(t, node.CanReply)
	assert.True(t, node.CanEdit)
	assert.False(t, node.CanModerate)
}

func TestEditedFlag(t *testing.T) {
	edited := rec("A", "", StatusActive, 0)
	edited.UpdatedAt = edited.CreatedAt.Add(2 * time.Second)
	fresh := rec("B", "", StatusActive, 1)
	fresh.UpdatedAt = fresh.CreatedAt.Add(500 * time.Millisecond)

	tree := BuildTree([]Record{edited, fresh}, Viewer{})
	node := FindNode(tree.Roots, "A")
	require.NotNil(t, node)
	assert.True(t, node.IsEdited)
	assert.False(t, FindNode(tree.Roots, "B").IsEdited)
}

func TestAttachmentDownloadURL(t *testing.T) {
	withFile := rec("A", "", StatusActive, 0)
	withFile.Attachments = []Attachment{{ID: "att-1", UploadID: "up-1", Filename: "a.pdf", Size: 10}}

	tree := BuildTree([]Record{withFile}, Viewer{})
	require.Len(t, tree.Roots[0].Attachments, 1)
	assert.Equal(t, "/api/uploads/up-1/download", tree.Roots[0].Attachments[0].URL)
}

func TestEmptyInputYieldsEmptyRoots(t *testing.T) {
	tree := BuildTree(nil, Viewer{})
	assert.NotNil(t, tree.Roots)
	assert.Empty(t, tree.Roots)
}
