package types

import (
	"encoding/json"
	"fmt"
)

// eventWire is the on-the-wire shape of Event. The attributes payload is
// flattened under "attributes" with a sibling "attributes_kind"
// discriminator so a decoder can pick the right Go type before unmarshaling
// the body; attributes_kind never appears in the logical contract itself
// but round-trips Flatten(Event) -> json_event -> Event losslessly.
type eventWire struct {
	Timestamp     string   `json:"timestamp"`
	Message       string   `json:"message"`
	EventType     string   `json:"event_type"`
	ProcessType   string   `json:"process_type"`
	ProcessStatus EventTag `json:"process_status"`

	PipelineName string   `json:"pipeline_name,omitempty"`
	RunName      string   `json:"run_name,omitempty"`
	RunID        string   `json:"run_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	AttributesKind string          `json:"attributes_kind,omitempty"`
	Attributes     json.RawMessage `json:"attributes,omitempty"`
}

// MarshalJSON flattens Event into the wire shape, tagging the attributes
// payload with its discriminator when attributes are present.
func (e Event) MarshalJSON() ([]byte, error) {
	wire := eventWire{
		Timestamp:     e.Timestamp.Format(rfc3339Nano),
		Message:       e.Message,
		EventType:     e.EventType,
		ProcessType:   e.ProcessType,
		ProcessStatus: e.ProcessStatus,
		PipelineName:  e.PipelineName,
		RunName:       e.RunName,
		RunID:         e.RunID,
		Tags:          e.Tags,
	}

	if e.Attributes != nil {
		body, err := json.Marshal(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("types: marshal attributes: %w", err)
		}
		wire.AttributesKind = e.Attributes.Kind()
		wire.Attributes = body
	}

	return json.Marshal(wire)
}

// UnmarshalJSON reconstructs an Event, dispatching on attributes_kind to
// decode the payload into the matching concrete EventAttributes type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return fmt.Errorf("types: parse timestamp: %w", err)
	}

	var attrs EventAttributes
	if len(wire.Attributes) > 0 {
		attrs, err = decodeAttributes(wire.AttributesKind, wire.Attributes)
		if err != nil {
			return err
		}
	}

	e.Timestamp = ts
	e.Message = wire.Message
	e.EventType = wire.EventType
	e.ProcessType = wire.ProcessType
	e.ProcessStatus = wire.ProcessStatus
	e.PipelineName = wire.PipelineName
	e.RunName = wire.RunName
	e.RunID = wire.RunID
	e.Tags = wire.Tags
	e.Attributes = attrs
	return nil
}

func decodeAttributes(kind string, raw json.RawMessage) (EventAttributes, error) {
	switch kind {
	case "process":
		var a ProcessAttributes
		return a, json.Unmarshal(raw, &a)
	case "completed_process":
		var a CompletedProcessAttributes
		return a, json.Unmarshal(raw, &a)
	case "system_metric":
		var a SystemMetricAttributes
		return a, json.Unmarshal(raw, &a)
	case "system_properties":
		var a SystemPropertiesAttributes
		return a, json.Unmarshal(raw, &a)
	case "syslog":
		var a SyslogAttributes
		return a, json.Unmarshal(raw, &a)
	case "datasets":
		var a ProcessDatasetStatsAttributes
		return a, json.Unmarshal(raw, &a)
	case "other", "":
		return OtherAttributes{Raw: append(json.RawMessage(nil), raw...)}, nil
	default:
		return nil, fmt.Errorf("types: unknown attributes_kind %q", kind)
	}
}
