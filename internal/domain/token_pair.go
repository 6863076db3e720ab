package domain

// TokenPair is handed to the caller on login, refresh and QR confirm.
// Immutable value; it is issued once and has no lifecycle of its own.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}
