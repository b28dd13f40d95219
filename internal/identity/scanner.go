package identity

import "sort"

// WorkItem is one unit of a full-roster scan.
type WorkItem struct {
	Account string
	JID     string
}

// BatchScanner walks every contact of every account in fixed-size batches.
// Callers drain one batch per event-loop idle slot and yield between
// batches, so a full-roster redraw never runs to completion synchronously.
type BatchScanner struct {
	items []WorkItem
	size  int
	pos   int
}

// Scanner snapshots the registry into a BatchScanner producing batches of
// the given size.
func (r *Registry) Scanner(batchSize int) *BatchScanner {
	if batchSize < 1 {
		batchSize = 1
	}
	var items []WorkItem
	accounts := r.Accounts()
	sort.Strings(accounts)
	for _, account := range accounts {
		jids := r.JIDList(account)
		sort.Strings(jids)
		for _, jid := range jids {
			items = append(items, WorkItem{Account: account, JID: jid})
		}
	}
	return &BatchScanner{items: items, size: batchSize}
}

// Next returns the next batch; ok is false once the scan is exhausted.
func (s *BatchScanner) Next() (batch []WorkItem, ok bool) {
	if s.pos >= len(s.items) {
		return nil, false
	}
	end := s.pos + s.size
	if end > len(s.items) {
		end = len(s.items)
	}
	batch = s.items[s.pos:end]
	s.pos = end
	return batch, true
}

// Remaining reports how many items have not been produced yet.
func (s *BatchScanner) Remaining() int {
	return len(s.items) - s.pos
}
