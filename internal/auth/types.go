package auth

// User is an account that can authenticate against the API.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Active       bool
}

// Role is a reusable permission template. Roles are granted per organization
// through assignments.
type Role struct {
	ID          string
	Slug        string
	Name        string
	Permissions []string
}

// Assignment gives a user a role within one organization.
type Assignment struct {
	UserID         string
	OrganizationID string
	RoleID         string
}
