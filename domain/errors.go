package domain

import "errors"

var (
	ErrInvalidRoomCode    = errors.New("invalid room code")
	ErrInvalidSyncPayload = errors.New("invalid sync payload")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrInternal           = errors.New("internal relay error")
	ErrNotInRoom          = errors.New("not a member of room")
	ErrUnknownMessage     = errors.New("unknown message type")
)

const (
	CodeInvalidRoomCode    = "InvalidRoomCode"
	CodeInvalidSyncPayload = "InvalidSyncPayload"
	CodeRateLimitExceeded  = "RateLimitExceeded"
	CodeInternalRelayError = "InternalRelayError"
)

// ErrorCode maps an error to the code reported in roomError frames.
// Anything unrecognised is an internal error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRoomCode), errors.Is(err, ErrNotInRoom):
		return CodeInvalidRoomCode
	case errors.Is(err, ErrInvalidSyncPayload), errors.Is(err, ErrUnknownMessage):
		return CodeInvalidSyncPayload
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimitExceeded
	default:
		return CodeInternalRelayError
	}
}

// ClientError turns err into the roomError payload sent to the originating
// connection. Internal errors never leak their details.
func ClientError(err error) RoomError {
	code := ErrorCode(err)
	if code == CodeInternalRelayError {
		return RoomError{Code: code, Message: ErrInternal.Error()}
	}
	return RoomError{Code: code, Message: err.Error()}
}
