package messaging

import "sort"

var priorityRanks = map[string]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityNormal: 2,
	PriorityLow:    3,
}

// Rank maps a priority to its display sort order; urgent sorts first.
// Unknown priorities rank as normal.
func Rank(priority string) int {
	if r, ok := priorityRanks[priority]; ok {
		return r
	}
	return priorityRanks[PriorityNormal]
}

// Classification is the presentation label for a message type.
// It carries no business rule.
type Classification struct {
	Icon  string `json:"icon"`
	Label string `json:"label"`
}

var classifications = map[string]Classification{
	TypeAdminBroadcast: {Icon: "campaign", Label: "Announcement"},
	TypeSystem:         {Icon: "settings", Label: "System"},
	TypeSupport:        {Icon: "support_agent", Label: "Support"},
	TypeDirect:         {Icon: "mail", Label: "Message"},
}

func Classify(messageType string) Classification {
	if c, ok := classifications[messageType]; ok {
		return c
	}
	return classifications[TypeDirect]
}

// SortInbox orders messages by priority rank, newest first within the same tier.
// Display order only; storage order is untouched.
func SortInbox(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ri, rj := Rank(msgs[i].Priority), Rank(msgs[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}
