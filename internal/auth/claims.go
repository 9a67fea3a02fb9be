package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
//
// Trust model: any validly-signed, non-expired token is accepted equally for
// upload/finalize/create. AgentID identifies the operator for audit purposes
// but is NOT bound to a specific session.
type Claims struct {
	jwt.RegisteredClaims

	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`
}
