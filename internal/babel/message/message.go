// Package message implements the Message I/O collaborator. The Babel wire
// protocol's TLV encoding, neighbour unicast/multicast transport, and
// timer-driven batching are all out of scope here (spec §1): a Sink only
// needs to tell the operator and the rest of this port what the daemon
// would have sent, which is exactly what a structured-log sink gives you
// for free.
package message

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/babeld-go/babeld/internal/babel"
)

// Sink is the collaborator interface the route package depends on for
// every outbound protocol action (spec §6).
type Sink interface {
	// SendUpdate announces (prefix, plen) to neigh if hasNeigh, else to
	// everyone. Urgent updates should bypass any outbound batching a
	// fuller transport would otherwise apply.
	SendUpdate(neigh babel.NodeID, hasNeigh bool, urgent bool, prefix netip.Prefix)
	// SendUnicastRequest asks neigh specifically to resend prefix at the
	// given seqno/hopcount, identified by id for dedup.
	SendUnicastRequest(neigh babel.NodeID, prefix netip.Prefix, seqno uint16, hopCount int, id uint64)
	// SendRequestResend asks the origin (via originHash) to resend at a
	// higher seqno; this is how the daemon escapes unfeasibility.
	SendRequestResend(prefix netip.Prefix, seqno uint16, originHash uint64)
	// SendRequest asks for a plain resend of prefix, to neigh if hasNeigh,
	// else to everyone.
	SendRequest(neigh babel.NodeID, hasNeigh bool, prefix netip.Prefix, seqno uint16, hopCount int, id uint64)
}

// LogSink is the reference Sink: it logs every action it is asked to take,
// at Info level, annotated with the fields an operator needs to correlate
// it with a tcpdump of the real wire traffic once a transport exists.
type LogSink struct {
	log *zap.SugaredLogger
}

// NewLogSink creates a Sink that only logs.
func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log.With(zap.String("component", "message"))}
}

func (s *LogSink) SendUpdate(neigh babel.NodeID, hasNeigh bool, urgent bool, prefix netip.Prefix) {
	if hasNeigh {
		s.log.Infow("send update", zap.Stringer("prefix", prefix), zap.Bool("urgent", urgent), zap.Binary("neigh", neigh[:]))
		return
	}
	s.log.Infow("send update", zap.Stringer("prefix", prefix), zap.Bool("urgent", urgent), zap.String("neigh", "*"))
}

func (s *LogSink) SendUnicastRequest(neigh babel.NodeID, prefix netip.Prefix, seqno uint16, hopCount int, id uint64) {
	s.log.Infow("send unicast request",
		zap.Stringer("prefix", prefix), zap.Uint16("seqno", seqno), zap.Int("hopcount", hopCount), zap.Uint64("id", id),
	)
}

func (s *LogSink) SendRequestResend(prefix netip.Prefix, seqno uint16, originHash uint64) {
	s.log.Infow("send request resend",
		zap.Stringer("prefix", prefix), zap.Uint16("seqno", seqno), zap.Uint64("origin_hash", originHash),
	)
}

func (s *LogSink) SendRequest(neigh babel.NodeID, hasNeigh bool, prefix netip.Prefix, seqno uint16, hopCount int, id uint64) {
	s.log.Infow("send request",
		zap.Stringer("prefix", prefix), zap.Uint16("seqno", seqno), zap.Bool("has_neigh", hasNeigh), zap.Uint64("id", id),
	)
}
