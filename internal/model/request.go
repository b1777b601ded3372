package model

import (
	"time"
)

// RegistrationMessage is returned to clients after a successful registration.
const RegistrationMessage = "Registration successful! You can now log in."

// RegistrationRequest is the body of POST /users/register.
type RegistrationRequest struct {
	Email     string `json:"email" validate:"required,min=5,max=255,emailformat"`
	Password  string `json:"password" validate:"required,min=8,max=128,password"`
	FirstName string `json:"firstName" validate:"required,min=2,max=50,personname"`
	LastName  string `json:"lastName" validate:"required,min=2,max=50,personname"`
}

// RegistrationResult is the outcome of a successful registration.
type RegistrationResult struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// RegistrationResponse is the body returned by POST /users/register.
type RegistrationResponse struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
	Message   string    `json:"message"`
}

// NewRegistrationResponse converts a registration result for the wire.
func NewRegistrationResponse(res *RegistrationResult) *RegistrationResponse {
	return &RegistrationResponse{
		UserID:    res.UserID,
		Email:     res.Email,
		FirstName: res.FirstName,
		LastName:  res.LastName,
		CreatedAt: res.CreatedAt,
		Message:   RegistrationMessage,
	}
}

// ProfileResponse is the body returned by GET /users/me.
type ProfileResponse struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewProfileResponse builds the profile view of a user joined with its profile.
func NewProfileResponse(user *User) *ProfileResponse {
	res := &ProfileResponse{
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
	if user.Profile != nil {
		res.FirstName = user.Profile.FirstName
		res.LastName = user.Profile.LastName
	}
	return res
}
