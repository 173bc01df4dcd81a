/*
Package errs provides custom error types and application-level error code constants.

These error codes identify request, authentication and messaging failures both inside
the server and in the JSON bodies and ERROR frames sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 3xxx: Authentication and Session Errors
const (
	// ErrUnauthorized indicates a missing, malformed or expired access token.
	ErrUnauthorized = 3001

	// ErrInvalidCredentials indicates a login with an unknown username or wrong password.
	ErrInvalidCredentials = 3002

	// ErrRefreshTokenMissing indicates that /api/refresh was called without a refresh cookie.
	ErrRefreshTokenMissing = 3003

	// ErrRefreshTokenInvalid indicates that the refresh cookie failed validation.
	ErrRefreshTokenInvalid = 3004

	// ErrMissingClientID indicates a WebSocket handshake without a usable client identifier.
	ErrMissingClientID = 3005

	// ErrUserAlreadyExists indicates that the username is already registered.
	ErrUserAlreadyExists = 3006

	// ErrInvalidRole indicates an unknown role name.
	ErrInvalidRole = 3007
)

// 4xxx: Messaging Errors
const (
	// ErrForbiddenDestination indicates a SUBSCRIBE or SEND to a destination the connection may not use.
	ErrForbiddenDestination = 4001

	// ErrUnknownDestination indicates a frame addressed to a destination the broker does not serve.
	ErrUnknownDestination = 4002

	// ErrMalformedFrame indicates a frame that could not be decoded.
	ErrMalformedFrame = 4003

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 4004

	// ErrUnknownCommand indicates a frame with an unsupported command.
	ErrUnknownCommand = 4005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
