package delivery

// Collector holds the answers picked for the question on screen.
type Collector struct {
	ids []int64
}

// Select replaces the pick on single-select questions. On multi-select ones it
// toggles answerID, keeping the remaining picks in selection order.
func (c *Collector) Select(answerID int64, multiSelect bool) {
	if !multiSelect {
		c.ids = append(c.ids[:0], answerID)
		return
	}
	for i, id := range c.ids {
		if id == answerID {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			return
		}
	}
	c.ids = append(c.ids, answerID)
}

func (c *Collector) Clear() {
	c.ids = nil
}

// Current returns a copy of the picks in selection order.
func (c *Collector) Current() []int64 {
	out := make([]int64, len(c.ids))
	copy(out, c.ids)
	return out
}

func (c *Collector) Empty() bool {
	return len(c.ids) == 0
}
