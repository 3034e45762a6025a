package audit

import (
	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
	"github.com/nextlevelbuilder/sovereignclaw/pkg/protocol"
)

// auditedEvents selects which bus events are persisted to the chain.
var auditedEvents = map[string]bool{
	protocol.EventToolExecFinished:      true,
	protocol.EventApprovalDecided:       true,
	protocol.EventPolicyEvaluated:       true,
	protocol.EventFsRead:                true,
	protocol.EventFsWrite:               true,
	protocol.EventDataDeletionInitiated: true,
	protocol.EventDataDeletionCompleted: true,
}

// Subscriber bridges the event bus to the audit log.
type Subscriber struct {
	log *Log
}

func NewSubscriber(log *Log) *Subscriber {
	return &Subscriber{log: log}
}

func (s *Subscriber) Name() string { return "audit" }

func (s *Subscriber) OnEvent(event bus.EventEnvelope) error {
	if !auditedEvents[event.EventType] {
		return nil
	}
	return s.log.Append(event)
}
