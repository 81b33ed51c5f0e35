package domain

// Snapshot is the serializable state of one session, exchanged with the
// persistence bridge on every persist signal and loaded back at startup.
type Snapshot struct {
	Name       string              `json:"name,omitempty"`
	Credential string              `json:"credential,omitempty"`
	Ignored    map[string][]string `json:"ignored,omitempty"`
	Alerts     map[string]Alert    `json:"alerts,omitempty"`
}
