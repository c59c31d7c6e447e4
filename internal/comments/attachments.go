package comments

import (
	"errors"
	"strings"
)

// ErrInvalidAttachments means an attachment id is unknown or owned by
// someone else.
var ErrInvalidAttachments = errors.New("invalid attachments")

// DedupeIDs trims ids, drops blanks and keeps the first occurrence of each.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// LinkPlan lists the upload links an edit must add and remove.
type LinkPlan struct {
	Add    []string
	Remove []string
}

func (p LinkPlan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// PlanAttachments diffs the currently linked upload ids against the requested
// set. A nil request leaves the links untouched.
func PlanAttachments(current []string, requested []string) LinkPlan {
	if requested == nil {
		return LinkPlan{}
	}
	want := DedupeIDs(requested)
	wantSet := make(map[string]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}
	haveSet := make(map[string]struct{}, len(current))
	var plan LinkPlan
	for _, id := range current {
		haveSet[id] = struct{}{}
		if _, ok := wantSet[id]; !ok {
			plan.Remove = append(plan.Remove, id)
		}
	}
	for _, id := range want {
		if _, ok := haveSet[id]; !ok {
			plan.Add = append(plan.Add, id)
		}
	}
	return plan
}
