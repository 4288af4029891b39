package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// assistant endpoints.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APICredentials is the per-request credential block forwarded to the
// assistant gateway. Empty fields are omitted from the wire payload.
type APICredentials struct {
	APIKey            string `json:"apiKey,omitempty"`
	APIHost           string `json:"apiHost,omitempty"`
	APIOrganizationID string `json:"apiOrganizationId,omitempty"`
}
