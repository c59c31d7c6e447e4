package comments

import "strings"

type ReactionType string

const (
	ReactionUpvote   ReactionType = "upvote"
	ReactionDownvote ReactionType = "downvote"
	ReactionHeart    ReactionType = "heart"
	ReactionLaugh    ReactionType = "laugh"
	ReactionHooray   ReactionType = "hooray"
	ReactionConfused ReactionType = "confused"
	ReactionRocket   ReactionType = "rocket"
	ReactionEyes     ReactionType = "eyes"
)

var reactionTypes = map[ReactionType]struct{}{
	ReactionUpvote:   {},
	ReactionDownvote: {},
	ReactionHeart:    {},
	ReactionLaugh:    {},
	ReactionHooray:   {},
	ReactionConfused: {},
	ReactionRocket:   {},
	ReactionEyes:     {},
}

// ParseReactionType returns false for anything outside the supported set.
func ParseReactionType(raw string) (ReactionType, bool) {
	value := ReactionType(strings.TrimSpace(raw))
	_, ok := reactionTypes[value]
	return value, ok
}

// ReactionRow is a single stored (comment, user, type) reaction.
type ReactionRow struct {
	Type   ReactionType
	UserID string
}

type ReactionSummary struct {
	Type             ReactionType `json:"type"`
	Count            int          `json:"count"`
	ViewerHasReacted bool         `json:"viewerHasReacted"`
}

// AggregateReactions folds the rows of one comment into per-type counts in
// first-seen order.
func AggregateReactions(rows []ReactionRow, viewerID string) []ReactionSummary {
	if len(rows) == 0 {
		return []ReactionSummary{}
	}
	index := make(map[ReactionType]int, len(rows))
	out := make([]ReactionSummary, 0, len(rows))
	for _, row := range rows {
		i, ok := index[row.Type]
		if !ok {
			i = len(out)
			index[row.Type] = i
			out = append(out, ReactionSummary{Type: row.Type})
		}
		out[i].Count++
		if viewerID != "" && row.UserID == viewerID {
			out[i].ViewerHasReacted = true
		}
	}
	return out
}
