package activity

import "github.com/google/uuid"

// IDProvider issues identifiers for log entries and chat messages.
type IDProvider interface {
	NewID() string
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

// NewID falls back to a random UUID when the v7 clock source fails; appends never fail.
func (p *uuidProvider) NewID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}
