package events

import (
	"encoding/json"
	"net/http"
)

// DefaultEndpoint is the collector URL used when none is configured.
const DefaultEndpoint = "https://logx.optimizely.com/v1/events"

const (
	activateEventKey    = "campaign_activated"
	customAttributeType = "custom"
	botFilteringKey     = "$opt_bot_filtering"
)

// LogEvent is one formatted sub-batch ready for dispatch.
type LogEvent struct {
	URL      string
	HTTPVerb string
	Params   Batch
	// Events are the buffered events this payload was built from, in order.
	Events []Event `json:"-"`
}

// Body encodes the payload.
func (l LogEvent) Body() ([]byte, error) { return json.Marshal(l.Params) }

// Batch is the collector payload.
type Batch struct {
	AccountID       string    `json:"account_id"`
	ProjectID       string    `json:"project_id"`
	Revision        string    `json:"revision"`
	ClientName      string    `json:"client_name"`
	ClientVersion   string    `json:"client_version"`
	AnonymizeIP     bool      `json:"anonymize_ip"`
	EnrichDecisions bool      `json:"enrich_decisions"`
	Visitors        []Visitor `json:"visitors"`
}

type Visitor struct {
	VisitorID  string             `json:"visitor_id"`
	Attributes []VisitorAttribute `json:"attributes"`
	Snapshots  []Snapshot         `json:"snapshots"`
}

type VisitorAttribute struct {
	EntityID string `json:"entity_id"`
	Key      string `json:"key"`
	Type     string `json:"type"`
	Value    any    `json:"value"`
}

type Snapshot struct {
	Decisions []Decision      `json:"decisions,omitempty"`
	Events    []SnapshotEvent `json:"events"`
}

type Decision struct {
	CampaignID   string           `json:"campaign_id"`
	ExperimentID string           `json:"experiment_id"`
	VariationID  string           `json:"variation_id"`
	Metadata     DecisionMetadata `json:"metadata"`
}

type DecisionMetadata struct {
	FlagKey      string `json:"flag_key"`
	RuleKey      string `json:"rule_key"`
	RuleType     string `json:"rule_type"`
	VariationKey string `json:"variation_key"`
	Enabled      bool   `json:"enabled"`
}

type SnapshotEvent struct {
	EntityID  string         `json:"entity_id"`
	Key       string         `json:"key"`
	Timestamp int64          `json:"timestamp"`
	UUID      string         `json:"uuid"`
	Revenue   *int64         `json:"revenue,omitempty"`
	Value     *float64       `json:"value,omitempty"`
	Tags      map[string]any `json:"tags,omitempty"`
}

// Format builds the payload for one group. Every event becomes one visitor
// entry, in buffer order. The batch header comes from the first event.
func Format(endpoint string, group []Event) LogEvent {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	out := LogEvent{URL: endpoint, HTTPVerb: http.MethodPost, Events: group}
	if len(group) == 0 {
		out.Params.Visitors = []Visitor{}
		return out
	}
	c := group[0].Header().Context
	out.Params = Batch{
		AccountID:       c.AccountID,
		ProjectID:       c.ProjectID,
		Revision:        c.Revision,
		ClientName:      c.ClientName,
		ClientVersion:   c.ClientVersion,
		AnonymizeIP:     c.AnonymizeIP,
		EnrichDecisions: true,
		Visitors:        make([]Visitor, 0, len(group)),
	}
	for _, e := range group {
		out.Params.Visitors = append(out.Params.Visitors, visitorFor(e))
	}
	return out
}

func visitorFor(e Event) Visitor {
	h := e.Header()
	v := Visitor{VisitorID: h.User.ID, Attributes: make([]VisitorAttribute, 0, len(h.User.Attributes)+1)}
	for _, a := range h.User.Attributes {
		v.Attributes = append(v.Attributes, VisitorAttribute{EntityID: a.EntityID, Key: a.Key, Type: customAttributeType, Value: a.Value})
	}
	if bf := h.Context.BotFiltering; bf != nil {
		v.Attributes = append(v.Attributes, VisitorAttribute{EntityID: botFilteringKey, Key: botFilteringKey, Type: customAttributeType, Value: *bf})
	}
	switch ev := e.(type) {
	case *Impression:
		v.Snapshots = []Snapshot{{
			Decisions: []Decision{{
				CampaignID:   ev.Layer.ID,
				ExperimentID: ev.Experiment.ID,
				VariationID:  ev.Variation.ID,
				Metadata: DecisionMetadata{
					FlagKey:      ev.FlagKey,
					RuleKey:      ev.RuleKey,
					RuleType:     ev.RuleType,
					VariationKey: ev.Variation.Key,
					Enabled:      ev.Enabled,
				},
			}},
			Events: []SnapshotEvent{{EntityID: ev.Layer.ID, Key: activateEventKey, Timestamp: h.Timestamp, UUID: h.UUID}},
		}}
	case *Conversion:
		v.Snapshots = []Snapshot{{
			Events: []SnapshotEvent{{
				EntityID:  ev.Event.ID,
				Key:       ev.Event.Key,
				Timestamp: h.Timestamp,
				UUID:      h.UUID,
				Revenue:   ev.Revenue,
				Value:     ev.Value,
				Tags:      ev.Tags,
			}},
		}}
	}
	return v
}
