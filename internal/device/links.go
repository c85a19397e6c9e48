package device

// LinkType is the kind of feedback relationship between two topics.
type LinkType string

const (
	// LinkStateFeedback links a command topic to the topic reporting its resulting state.
	LinkStateFeedback LinkType = "state_feedback"

	// LinkAckFeedback links a command topic to the topic acknowledging receipt.
	LinkAckFeedback LinkType = "ack_feedback"
)

// Link is a directed feedback relationship from a command topic to a
// topic the device publishes on.
type Link struct {
	ID          int64    `json:"id"`
	FromTopicID int64    `json:"from_topic_id"`
	ToTopicID   int64    `json:"to_topic_id"`
	Type        LinkType `json:"link_type"`
}

// FeedbackLinks is an adjacency list over topic ids in both directions.
// The zero value is an empty, usable set.
type FeedbackLinks struct {
	outgoing map[int64]map[LinkType][]int64
	incoming map[int64]map[LinkType][]int64
}

// NewFeedbackLinks indexes links by source and by target.
func NewFeedbackLinks(links []Link) FeedbackLinks {
	f := FeedbackLinks{
		outgoing: make(map[int64]map[LinkType][]int64),
		incoming: make(map[int64]map[LinkType][]int64),
	}
	for _, l := range links {
		addEdge(f.outgoing, l.FromTopicID, l.Type, l.ToTopicID)
		addEdge(f.incoming, l.ToTopicID, l.Type, l.FromTopicID)
	}
	return f
}

func addEdge(index map[int64]map[LinkType][]int64, key int64, lt LinkType, value int64) {
	byType, ok := index[key]
	if !ok {
		byType = make(map[LinkType][]int64)
		index[key] = byType
	}
	for _, existing := range byType[lt] {
		if existing == value {
			return
		}
	}
	byType[lt] = append(byType[lt], value)
}

// Targets returns the topics linked from a command topic with the given type.
func (f FeedbackLinks) Targets(fromTopicID int64, lt LinkType) []int64 {
	return f.outgoing[fromTopicID][lt]
}

// Sources returns the command topics linked to an inbound topic with the
// given type. An empty type matches every link type.
func (f FeedbackLinks) Sources(toTopicID int64, lt LinkType) []int64 {
	if lt != "" {
		return f.incoming[toTopicID][lt]
	}
	var ids []int64
	seen := make(map[int64]bool)
	for _, linkType := range []LinkType{LinkStateFeedback, LinkAckFeedback} {
		for _, id := range f.incoming[toTopicID][linkType] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// FeedbackLinkType maps an inbound topic purpose to the link type that
// narrows matching for it. Other purposes return "" (any link type).
func FeedbackLinkType(p Purpose) LinkType {
	switch p {
	case PurposeState:
		return LinkStateFeedback
	case PurposeAck:
		return LinkAckFeedback
	default:
		return ""
	}
}
