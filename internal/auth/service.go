package auth

// Service issues and verifies room-scoped credentials.
type Service struct {
	jwtConfig *JWTConfig
}

// NewService creates a new credential service.
func NewService(jwtConfig *JWTConfig) *Service {
	return &Service{jwtConfig: jwtConfig}
}

// IssueRoomToken returns a credential for userID scoped to roomID.
func (s *Service) IssueRoomToken(roomID, userID string, isAdmin bool) (string, error) {
	return GenerateRoomToken(s.jwtConfig, roomID, userID, isAdmin)
}

// ValidateRoomToken verifies a credential and returns its claims.
func (s *Service) ValidateRoomToken(tokenString string) (*RoomClaims, error) {
	return ValidateRoomToken(s.jwtConfig, tokenString)
}
