package queue

import "github.com/roach88/offsync/internal/ir"

// sequence hands out the Seq stamped on queued actions. It only moves
// forward. The high-water mark is stored with the queue document and the
// next value is computed inside the same storage update that appends the
// action, so two processes sharing a database never stamp the same Seq.
type sequence struct {
	last int64
}

// resumeSequence continues from the stored mark, or from the highest Seq
// present when an older document carries no mark.
func resumeSequence(mark int64, actions []ir.QueuedAction) sequence {
	s := sequence{last: mark}
	for _, qa := range actions {
		s.last = max(s.last, qa.Seq)
	}
	return s
}

func (s *sequence) next() int64 {
	s.last++
	return s.last
}
