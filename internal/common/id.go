package common

import (
	"github.com/google/uuid"
)

// NewRequestID generates a correlation id for inbound API and webhook requests
// Format: req_<uuid>
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// NewSubscriptionID identifies one event bus registration
// Format: sub_<uuid>
func NewSubscriptionID() string {
	return "sub_" + uuid.New().String()
}
