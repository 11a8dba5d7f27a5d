package message

import "sort"

// Merge combines any number of message lists into a single list that is
// deduplicated by ID and sorted ascending by CreatedAt (ties broken by ID).
// The result depends only on the set of messages supplied, not on the order
// of the input lists, so Merge(a, b) and Merge(b, a) yield identical output
// and merging the same list twice changes nothing.
func Merge(lists ...[]Message) []Message {
	byID := make(map[string]Message)
	for _, list := range lists {
		for _, m := range list {
			prev, ok := byID[m.ID]
			if !ok {
				byID[m.ID] = m
				continue
			}
			byID[m.ID] = reconcile(prev, m)
		}
	}

	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	SortAscending(out)
	return out
}

// reconcile resolves two copies of the same message. The immutable fields
// are taken from either copy; the read state is sticky — once any copy says
// the message was read, the merged record stays read. Picking the earliest
// non-zero ReadAt keeps the result independent of encounter order.
func reconcile(a, b Message) Message {
	out := a
	if b.IsRead {
		out.IsRead = true
	}
	if out.ReadAt.IsZero() || (!b.ReadAt.IsZero() && b.ReadAt.Before(out.ReadAt)) {
		out.ReadAt = b.ReadAt
	}
	return out
}

// SortAscending orders messages by CreatedAt, oldest first. Equal timestamps
// fall back to ID comparison so repeated sorts are deterministic.
func SortAscending(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
