package peer

import "github.com/Wyydra/huddle/internal/core/domain"

// CandidateBuffer queues remote ICE candidates that arrive before the remote
// description is known. It is not safe for concurrent use; Link guards it.
type CandidateBuffer struct {
	queue []domain.ICECandidate
}

func (b *CandidateBuffer) Push(c domain.ICECandidate) {
	b.queue = append(b.queue, c)
}

// Drain returns every queued candidate in arrival order and empties the
// buffer.
func (b *CandidateBuffer) Drain() []domain.ICECandidate {
	out := b.queue
	b.queue = nil
	return out
}

func (b *CandidateBuffer) Len() int {
	return len(b.queue)
}
