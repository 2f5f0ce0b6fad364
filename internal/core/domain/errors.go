package domain

import "errors"

var (
	ErrRoomIDRequired   = errors.New("room id is required")
	ErrRoomIDTooLong    = errors.New("room id is too long")
	ErrNotInRoom        = errors.New("participant is not in a room")
	ErrUnknownType      = errors.New("unknown message type")
	ErrMissingRecipient = errors.New("recipient is required")
	ErrEmptyMessage     = errors.New("message content cannot be empty")
	ErrModerationDenied = errors.New("moderation not permitted")
	ErrMalformedPayload = errors.New("malformed payload")
)
