package models

// User is a worker account allowed to mutate jobs. The admin account comes
// from configuration and is not stored here.
type User struct {
	ID           string
	Username     string
	PasswordHash string
}
