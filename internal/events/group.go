package events

import "fmt"

// Grouper splits a flushed buffer into sub-batches. Implementations must keep
// the relative order of events within each group.
type Grouper interface {
	Group(buffer []Event) [][]Event
}

// GrouperFunc adapts a func to Grouper.
type GrouperFunc func(buffer []Event) [][]Event

func (f GrouperFunc) Group(buffer []Event) [][]Event { return f(buffer) }

// ByContext groups events sharing the same Context. Groups appear in the order
// their first event was enqueued.
var ByContext Grouper = GrouperFunc(groupByContext)

// Single puts the whole buffer into one group.
var Single Grouper = GrouperFunc(func(buffer []Event) [][]Event {
	if len(buffer) == 0 {
		return nil
	}
	return [][]Event{buffer}
})

func groupByContext(buffer []Event) [][]Event {
	var groups [][]Event
	index := make(map[string]int)
	for _, e := range buffer {
		k := contextKey(e.Header().Context)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

func contextKey(c Context) string {
	bf := "unset"
	if c.BotFiltering != nil {
		bf = fmt.Sprint(*c.BotFiltering)
	}
	return fmt.Sprintf("%q|%q|%q|%q|%q|%t|%s", c.AccountID, c.ProjectID, c.Revision, c.ClientName, c.ClientVersion, c.AnonymizeIP, bf)
}
