package domain

// User is the account record returned by the auth endpoint and persisted
// next to the bearer token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Identity is the authenticated user held by the client.
type Identity struct {
	UserID string
	Email  string
	Token  string
}

// User returns the persistable user record of the identity.
func (i Identity) User() User {
	return User{ID: i.UserID, Email: i.Email}
}
