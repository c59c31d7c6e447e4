package comments

import (
	"sort"
	"time"
)

// MaxSortDepth bounds how deep reply lists are ordered.
const MaxSortDepth = 20

// Author is the stored profile of a registered comment author.
type Author struct {
	ID         string
	Name       string
	Image      string
	IsVerified bool
	IsAdmin    bool
}

type Attachment struct {
	ID          string
	UploadID    string
	Filename    string
	ContentType string
	Size        int64
}

// Record is one flat comment row as loaded from storage.
type Record struct {
	ID          string
	Body        string
	Visibility  Visibility
	Status      Status
	AuthorID    string
	AuthorName  string
	Author      *Author
	IsAnonymous bool
	ParentID    string
	RootID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Attachments []Attachment
	Reactions   []ReactionRow
}

type AuthorSummary struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Image      string `json:"image,omitempty"`
	IsVerified bool   `json:"isVerified"`
	IsAdmin    bool   `json:"isAdmin"`
	IsGuest    bool   `json:"isGuest"`
}

type AttachmentView struct {
	ID          string `json:"id"`
	UploadID    string `json:"uploadId"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
}

// Node is a comment as presented to one viewer.
type Node struct {
	ID           string            `json:"id"`
	Body         string            `json:"body"`
	BodyHTML     string            `json:"bodyHtml,omitempty"`
	Visibility   Visibility        `json:"visibility"`
	Status       Status            `json:"status"`
	Author       *AuthorSummary    `json:"author"`
	AuthorHidden bool              `json:"authorHidden"`
	IsAnonymous  bool              `json:"isAnonymous"`
	IsAuthor     bool              `json:"isAuthor"`
	IsEdited     bool              `json:"isEdited"`
	ParentID     *string           `json:"parentId"`
	RootID       string            `json:"rootId"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Reactions    []ReactionSummary `json:"reactions"`
	Attachments  []AttachmentView  `json:"attachments"`
	CanReply     bool              `json:"canReply"`
	CanEdit      bool              `json:"canEdit"`
	CanModerate  bool              `json:"canModerate"`
	Replies      []*Node           `json:"replies"`

	verified bool
	order    int
}

type Tree struct {
	Roots       []*Node
	HiddenCount int
}

// BuildTree filters records for viewer and assembles the reply forest.
func BuildTree(records []Record, viewer Viewer) Tree {
	byID := make(map[string]*Record, len(records))
	children := make(map[string][]*Record, len(records))
	for i := range records {
		rec := &records[i]
		byID[rec.ID] = rec
		if rec.ParentID != "" {
			children[rec.ParentID] = append(children[rec.ParentID], rec)
		}
	}

	memo := make(map[string]bool, len(records))
	var hasVisibleDescendant func(id string, visited map[string]struct{}) bool
	hasVisibleDescendant = func(id string, visited map[string]struct{}) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		if _, ok := visited[id]; ok {
			return false
		}
		visited[id] = struct{}{}
		for _, child := range children[id] {
			if child.Status != StatusDeleted || hasVisibleDescendant(child.ID, visited) {
				memo[id] = true
				return true
			}
		}
		memo[id] = false
		return false
	}

	var tree Tree
	nodes := make(map[string]*Node, len(records))
	ordered := make([]*Node, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.Status == StatusDeleted && !hasVisibleDescendant(rec.ID, map[string]struct{}{}) {
			continue
		}
		isAuthor := viewer.owns(rec.AuthorID)
		loginRequired := rec.Visibility == VisibilityLoggedInOnly && !viewer.IsAuthenticated()
		if (rec.Status == StatusSoftbanned && !viewer.IsAdmin && !isAuthor) || loginRequired {
			// Only the sign-in gate is reported, whichever rule excluded the row.
			if loginRequired && rec.Status != StatusDeleted {
				tree.HiddenCount++
			}
			continue
		}
		node := present(rec, viewer, isAuthor)
		node.order = i
		nodes[rec.ID] = node
		ordered = append(ordered, node)
	}

	for _, node := range ordered {
		rec := byID[node.ID]
		parent, ok := nodes[rec.ParentID]
		if rec.ParentID == "" || !ok || inCycle(rec.ID, byID, nodes) {
			tree.Roots = append(tree.Roots, node)
			continue
		}
		parent.Replies = append(parent.Replies, node)
	}

	sortNodes(tree.Roots, 0)
	if tree.Roots == nil {
		tree.Roots = []*Node{}
	}
	return tree
}

// inCycle reports whether walking retained parents from id leads back to id.
func inCycle(id string, byID map[string]*Record, retained map[string]*Node) bool {
	seen := map[string]struct{}{id: {}}
	current := byID[id].ParentID
	for current != "" {
		if current == id {
			return true
		}
		if _, ok := seen[current]; ok {
			return false
		}
		if _, ok := retained[current]; !ok {
			return false
		}
		seen[current] = struct{}{}
		current = byID[current].ParentID
	}
	return false
}

func present(rec *Record, viewer Viewer, isAuthor bool) *Node {
	hideAuthor := (rec.Visibility == VisibilityAnonymous || rec.IsAnonymous) && !viewer.IsAdmin

	node := &Node{
		ID:           rec.ID,
		Body:         rec.Body,
		Visibility:   rec.Visibility,
		Status:       rec.Status,
		AuthorHidden: hideAuthor,
		IsAnonymous:  rec.IsAnonymous,
		IsAuthor:     isAuthor,
		IsEdited:     IsEdited(rec.CreatedAt, rec.UpdatedAt),
		RootID:       rec.RootID,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		Reactions:    AggregateReactions(rec.Reactions, viewer.UserID),
		Attachments:  presentAttachments(rec.Attachments),
		CanReply:     viewer.IsAuthenticated(),
		CanEdit:      isAuthor && rec.Status != StatusDeleted,
		CanModerate:  viewer.IsAdmin,
		Replies:      []*Node{},
	}
	if rec.ParentID != "" {
		parentID := rec.ParentID
		node.ParentID = &parentID
	}
	if rec.Status == StatusSoftbanned && !viewer.IsAdmin && !isAuthor {
		node.Status = StatusActive
	}
	if rec.Status == StatusDeleted && !viewer.IsAdmin {
		node.Body = ""
		node.Attachments = []AttachmentView{}
	}
	if !hideAuthor {
		node.Author = summarizeAuthor(rec)
		if node.Author != nil {
			node.verified = node.Author.IsVerified
		}
	}
	return node
}

func summarizeAuthor(rec *Record) *AuthorSummary {
	if rec.Author != nil {
		return &AuthorSummary{
			ID:         rec.Author.ID,
			Name:       rec.Author.Name,
			Image:      rec.Author.Image,
			IsVerified: rec.Author.IsVerified,
			IsAdmin:    rec.Author.IsAdmin,
		}
	}
	if rec.AuthorID == "" && rec.AuthorName != "" {
		return &AuthorSummary{Name: rec.AuthorName, IsGuest: true}
	}
	return nil
}

func presentAttachments(items []Attachment) []AttachmentView {
	out := make([]AttachmentView, 0, len(items))
	for _, item := range items {
		out = append(out, AttachmentView{
			ID:          item.ID,
			UploadID:    item.UploadID,
			Filename:    item.Filename,
			URL:         "/api/uploads/" + item.UploadID + "/download",
			ContentType: item.ContentType,
			Size:        item.Size,
		})
	}
	return out
}

func sortNodes(nodes []*Node, depth int) {
	if depth >= MaxSortDepth || len(nodes) == 0 {
		return
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.verified != b.verified {
			return a.verified
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.order < b.order
	})
	for _, node := range nodes {
		sortNodes(node.Replies, depth+1)
	}
}

// FindNode returns the node with id anywhere in roots.
func FindNode(roots []*Node, id string) *Node {
	for _, node := range roots {
		if node.ID == id {
			return node
		}
		if found := FindNode(node.Replies, id); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits every node depth first.
func Walk(roots []*Node, fn func(*Node)) {
	for _, node := range roots {
		fn(node)
		Walk(node.Replies, fn)
	}
}
