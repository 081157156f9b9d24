package types

// EventContext identifies the project and client an event belongs to.
type EventContext struct {
	// example: 12133785640
	AccountID string `json:"account_id" example:"12133785640"`
	// example: 6460519658291200
	ProjectID string `json:"project_id" example:"6460519658291200"`
	// Datafile revision the decision was made with.
	// example: 73
	Revision string `json:"revision,omitempty" example:"73"`
	// example: flagsync-go
	ClientName string `json:"client_name,omitempty" example:"flagsync-go"`
	// example: 1.0.0
	ClientVersion string `json:"client_version,omitempty" example:"1.0.0"`
	AnonymizeIP   bool   `json:"anonymize_ip,omitempty"`
	// Omitted when the datafile does not configure bot filtering.
	BotFiltering *bool `json:"bot_filtering,omitempty"`
}

// Entity is an id/key pair from the datafile.
type Entity struct {
	// example: 5470230830710784
	ID string `json:"id" example:"5470230830710784"`
	// example: checkout_flow
	Key string `json:"key" example:"checkout_flow"`
}

// Attribute is one visitor attribute.
type Attribute struct {
	EntityID string `json:"entity_id,omitempty"`
	// example: plan
	Key string `json:"key" example:"plan"`
	// Any JSON scalar.
	Value any `json:"value"`
}

// User is the visitor an event is about.
type User struct {
	// example: user-123
	ID         string      `json:"id" example:"user-123"`
	Attributes []Attribute `json:"attributes,omitempty"`
}
