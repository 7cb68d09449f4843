package models

// Role represents user role in the marketplace.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTutor   Role = "tutor"
	RoleLearner Role = "learner"
)
