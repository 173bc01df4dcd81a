/*
Package errs provides custom error types and application-level error code constants.

This file maps every error code to its CustomError template (user message and HTTP status).
*/
package errs

import "net/http"

var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 3xxx: Authentication and Session Errors
	ErrUnauthorized:        {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrInvalidCredentials:  {Code: ErrInvalidCredentials, Message: "Incorrect username or password.", Status: http.StatusUnauthorized},
	ErrRefreshTokenMissing: {Code: ErrRefreshTokenMissing, Message: "Refresh token not found.", Status: http.StatusUnauthorized},
	ErrRefreshTokenInvalid: {Code: ErrRefreshTokenInvalid, Message: "Your session has expired.", Status: http.StatusUnauthorized},
	ErrMissingClientID:     {Code: ErrMissingClientID, Message: "Missing client identifier.", Status: http.StatusBadRequest},
	ErrUserAlreadyExists:   {Code: ErrUserAlreadyExists, Message: "Username is already taken.", Status: http.StatusConflict},
	ErrInvalidRole:         {Code: ErrInvalidRole, Message: "Unknown role %q.", Status: http.StatusBadRequest},

	// 4xxx: Messaging Errors
	ErrForbiddenDestination:  {Code: ErrForbiddenDestination, Message: "Destination not allowed."},
	ErrUnknownDestination:    {Code: ErrUnknownDestination, Message: "Unknown destination."},
	ErrMalformedFrame:        {Code: ErrMalformedFrame, Message: "Malformed frame."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrUnknownCommand:        {Code: ErrUnknownCommand, Message: "Unsupported command."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
