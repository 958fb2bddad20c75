package domain

// SDPPayload is the JSON structure for SDP offer/answer messages exchanged
// with the relay's signaling endpoint.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}
