package rollup

// Cursor tracks inbound progress. Next is the index the following message
// must carry, which also equals the number of messages applied so far.
type Cursor struct {
	Queue QueueID
	Next  uint64
}

// Expected returns the index the next inbound message must carry.
func (c Cursor) Expected() uint64 { return c.Next }

// Last returns the highest applied index. ok is false until a message has been
// applied.
func (c Cursor) Last() (index uint64, ok bool) {
	if c.Next == 0 {
		return 0, false
	}
	return c.Next - 1, true
}
