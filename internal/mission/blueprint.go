package mission

import "time"

// Selector intents shared by blueprints, providers, and the vision oracle.
const (
	IntentNameInput     = "name_input"
	IntentLocationInput = "location_input"
	IntentSearchButton  = "search_button"
	IntentResultCard    = "result_card"
	IntentPhoneField    = "phone_field"
	IntentAddressField  = "address_field"
	IntentAgeField      = "age_field"
)

// Blueprint is the authoritative selector template for one site domain.
// Updates are append-then-swap: a Commit replaces the whole record, never a
// partial overwrite.
type Blueprint struct {
	Domain         string            `json:"domain"`
	Selectors      map[string]string `json:"selectors"`
	Confidence     float64           `json:"confidence"`
	RepairCount    int               `json:"repair_count"`
	LastRepairedAt time.Time         `json:"last_repaired_at,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Selector returns the recorded selector for intent, if any.
func (b Blueprint) Selector(intent string) (string, bool) {
	sel, ok := b.Selectors[intent]
	return sel, ok && sel != ""
}

// SelectorRepair is an immutable audit record produced when vision grounding
// recovers a stale selector. It feeds blueprint confidence decay.
type SelectorRepair struct {
	Domain           string    `json:"domain"`
	Intent           string    `json:"intent"`
	OriginalSelector string    `json:"original_selector"`
	NewSelector      string    `json:"new_selector"`
	Confidence       float64   `json:"confidence"`
	CreatedAt        time.Time `json:"created_at"`
}
