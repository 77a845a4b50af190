package events

import (
	"encoding/json"
	"fmt"

	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/model"
	"github.com/netsentinel/netsentinel/internal/streaming"
)

// ModelSink adapts a Publisher to model.EventSink, translating A2's
// creation callbacks into notification-channel events (§4.7/§6.2) without
// A2 importing the streaming wire format.
type ModelSink struct {
	publisher *Publisher
}

// NewModelSink wraps publisher as an A2 EventSink.
func NewModelSink(publisher *Publisher) *ModelSink {
	return &ModelSink{publisher: publisher}
}

func (s *ModelSink) NewDevice(mac frame.MAC, firstSeenMicro int64) {
	payload, err := json.Marshal(streaming.NewDevicePayload{
		MAC:       mac.String(),
		FirstSeen: firstSeenMicro,
	})
	if err != nil {
		return
	}
	s.publisher.Enqueue(streaming.Event{
		Type:      streaming.EventNewDevice,
		Timestamp: firstSeenMicro,
		Payload:   payload,
	})
}

func (s *ModelSink) NewFlow(key model.FlowKey, firstSeenMicro int64) {
	payload, err := json.Marshal(streaming.NewFlowPayload{
		FlowKey:   flowKeyString(key),
		FirstSeen: firstSeenMicro,
	})
	if err != nil {
		return
	}
	s.publisher.Enqueue(streaming.Event{
		Type:      streaming.EventNewFlow,
		Timestamp: firstSeenMicro,
		Payload:   payload,
	})
}

func flowKeyString(k model.FlowKey) string {
	return fmt.Sprintf("%s:%d->%s:%d/vlan%d/proto%d",
		k.SrcMAC.String(), k.SrcPort, k.DstMAC.String(), k.DstPort, k.VLANID, k.IPProtocol)
}
