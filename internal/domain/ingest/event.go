package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/okian/orbit/internal/domain/model"
)

// Kind tells a full-replacement bootstrap from a single-record delta.
type Kind int

// Event kinds.
const (
	KindBootstrap Kind = iota + 1
	KindDelta
)

func (k Kind) String() string {
	switch k {
	case KindBootstrap:
		return "bootstrap"
	case KindDelta:
		return "delta"
	default:
		return "unknown"
	}
}

// Event is one unit of remote state flowing through the ingest queue.
type Event struct {
	Kind Kind
	// Seq orders bootstraps; deltas carry zero.
	Seq uint64
	// Source names where the event came from: poll, push or cache.
	Source  string
	Records []model.ContributionRecord
	Record  model.ContributionRecord
}

// Bootstrap builds a bootstrap event.
func Bootstrap(seq uint64, source string, records []model.ContributionRecord) Event {
	return Event{Kind: KindBootstrap, Seq: seq, Source: source, Records: records}
}

// Delta builds a delta event.
func Delta(source string, rec model.ContributionRecord) Event {
	return Event{Kind: KindDelta, Source: source, Record: rec}
}

// Decode discriminates a push payload by shape. An object with a records
// array is a bootstrap; an object carrying id and slotIndex is a delta.
// Anything else is ErrMalformedPayload. The returned bootstrap has no
// sequence number yet.
func Decode(data []byte) (Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil || probe == nil {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	if raw, ok := probe["records"]; ok {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return Event{}, fmt.Errorf("%w: null records", ErrMalformedPayload)
		}
		var payload model.BootstrapPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		return Event{Kind: KindBootstrap, Source: SourcePush, Records: payload.Records}, nil
	}

	_, hasID := probe["id"]
	_, hasSlot := probe["slotIndex"]
	if hasID && hasSlot {
		var rec model.ContributionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		return Delta(SourcePush, rec), nil
	}

	return Event{}, fmt.Errorf("%w: neither records nor id/slotIndex", ErrMalformedPayload)
}
