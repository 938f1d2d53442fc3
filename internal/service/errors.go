package service

import "errors"

var (
	// ErrSessionNotFound is returned when no session has the requested id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidStatus is returned for a status outside the session lifecycle.
	ErrInvalidStatus = errors.New("invalid session status")
	// ErrInvalidParticipants is returned when a session cannot be started
	// with the given participants.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrEmptyMessage is returned when a chat turn carries no text.
	ErrEmptyMessage = errors.New("message is required")
	// ErrContractRequired is returned when a contract link carries no id.
	ErrContractRequired = errors.New("contract_id is required")
	// ErrInvalidOrder is returned when an order fails validation.
	ErrInvalidOrder = errors.New("invalid order")
)
