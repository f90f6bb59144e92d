package realtime

import (
	"sync"

	"client-portal/internal/model"
)

// Collection is an ordered set of rows kept in step with a change stream.
// Newest rows come first, matching the list endpoint.
type Collection struct {
	mu   sync.RWMutex
	rows []model.Row
}

func NewCollection(rows []model.Row) *Collection {
	c := &Collection{}
	c.Replace(rows)
	return c
}

// Replace discards the current contents in favour of rows.
func (c *Collection) Replace(rows []model.Row) {
	next := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		next = append(next, r.Clone())
	}
	c.mu.Lock()
	c.rows = next
	c.mu.Unlock()
}

// Apply reconciles one event. Inserts are prepended. Updates merge the
// new fields into the row with the same id and are dropped when no such
// row exists. Deletes remove by id and are a no-op for unknown ids.
func (c *Collection) Apply(ev model.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case model.EventInsert:
		if ev.New == nil {
			return
		}
		c.rows = append([]model.Row{ev.New.Clone()}, c.rows...)
	case model.EventUpdate:
		i := c.index(ev.New.ID())
		if i < 0 {
			return
		}
		merged := c.rows[i].Clone()
		for k, v := range ev.New {
			merged[k] = v
		}
		c.rows[i] = merged
	case model.EventDelete:
		i := c.index(ev.Old.ID())
		if i < 0 {
			return
		}
		c.rows = append(c.rows[:i:i], c.rows[i+1:]...)
	}
}

func (c *Collection) index(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range c.rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

// Rows returns a snapshot. Callers may modify the returned rows.
func (c *Collection) Rows() []model.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Row, len(c.rows))
	for i, r := range c.rows {
		out[i] = r.Clone()
	}
	return out
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}
