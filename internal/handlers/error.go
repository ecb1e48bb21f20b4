package handlers

// ErrorResponse is the standard API error body. Kind, when set, carries
// the relay error taxonomy (authentication, validation, access_denied,
// relay_unavailable) so HTTP clients classify failures the same way
// websocket clients do.
type ErrorResponse struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}
