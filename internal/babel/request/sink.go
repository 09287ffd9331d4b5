package request

import (
	"net/netip"

	"github.com/babeld-go/babeld/internal/babel"
	"github.com/babeld-go/babeld/internal/babel/message"
)

// RecordingSink wraps a message.Sink, recording every seqno request it
// sends into a Table before delegating to the wrapped Sink. This is the
// collaborator's doc-comment promise ("Record... called by the message
// sink whenever a seqno request actually goes out") made real: without it,
// Table.Record is never invoked in the running daemon and
// send_triggered_update's "someone is still waiting on a fresher seqno"
// disjunct (spec §4.8) can never fire.
type RecordingSink struct {
	inner message.Sink
	reqs  *MemoryTable
}

// NewRecordingSink wraps inner so every request it sends is recorded in
// reqs.
func NewRecordingSink(inner message.Sink, reqs *MemoryTable) *RecordingSink {
	return &RecordingSink{inner: inner, reqs: reqs}
}

func (s *RecordingSink) SendUpdate(neigh babel.NodeID, hasNeigh bool, urgent bool, prefix netip.Prefix) {
	s.inner.SendUpdate(neigh, hasNeigh, urgent, prefix)
}

func (s *RecordingSink) SendUnicastRequest(neigh babel.NodeID, prefix netip.Prefix, seqno uint16, hopCount int, id uint64) {
	s.reqs.Record(prefix, seqno, id)
	s.inner.SendUnicastRequest(neigh, prefix, seqno, hopCount, id)
}

func (s *RecordingSink) SendRequestResend(prefix netip.Prefix, seqno uint16, originHash uint64) {
	s.reqs.Record(prefix, seqno, originHash)
	s.inner.SendRequestResend(prefix, seqno, originHash)
}

func (s *RecordingSink) SendRequest(neigh babel.NodeID, hasNeigh bool, prefix netip.Prefix, seqno uint16, hopCount int, id uint64) {
	s.reqs.Record(prefix, seqno, id)
	s.inner.SendRequest(neigh, hasNeigh, prefix, seqno, hopCount, id)
}
