package mirror

import "github.com/google/uuid"

type uuidRunIDProvider struct{}

// NewUUIDRunIDProvider constructs a RunIDProvider that issues UUIDv7
// identifiers, keeping run ids sortable by start time in log output.
func NewUUIDRunIDProvider() RunIDProvider {
	return &uuidRunIDProvider{}
}

func (p *uuidRunIDProvider) NewRunID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
