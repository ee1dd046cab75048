package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes a failed chat log store call.
	RedisErrorMessage = "chat log store unavailable"
	// RedisNotFoundMessage describes a missing chat log key.
	RedisNotFoundMessage = "chat log not found"
)

// Failure kinds shared by the answer pipeline. Match them with errors.Is.
var (
	ErrClassificationAmbiguous = errors.New("classification ambiguous")
	ErrRetrieval               = errors.New("retrieval failed")
	ErrPlaceNotFound           = errors.New("place not found")
	ErrProvider                = errors.New("provider unavailable")
	ErrGeneration              = errors.New("generation failed")
	ErrNoAnswer                = errors.New("no answer could be produced")
	ErrBadRequest              = errors.New("bad request")
)

// AppError wraps an underlying error with a failure kind, an HTTP status and a safe message.
type AppError struct {
	Err     error
	Kind    error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether the target is the failure kind or matches the underlying error.
func (e *AppError) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

func newKind(kind, err error, status int, message string) *AppError {
	return &AppError{Err: err, Kind: kind, Status: status, Message: message}
}

// Retrieval marks a passage index failure.
func Retrieval(err error) *AppError {
	return newKind(ErrRetrieval, err, http.StatusBadGateway, "passage index unavailable")
}

// Generation marks a failed or timed out model call.
func Generation(err error) *AppError {
	return newKind(ErrGeneration, err, http.StatusBadGateway, "answer generation failed")
}

// Provider marks an external provider failure after retries.
func Provider(err error) *AppError {
	return newKind(ErrProvider, err, http.StatusBadGateway, "provider unavailable")
}

// UnknownPlaceError names the place the geocoder could not resolve.
type UnknownPlaceError struct {
	Place string
}

func (e *UnknownPlaceError) Error() string {
	return fmt.Sprintf("no geocoding result for %q", e.Place)
}

// PlaceNotFound marks a place name the geocoder could not resolve.
func PlaceNotFound(place string) *AppError {
	return newKind(ErrPlaceNotFound, &UnknownPlaceError{Place: place}, http.StatusNotFound, "place not found")
}

// NoAnswer marks a request where every answer path failed.
func NoAnswer(err error) *AppError {
	return newKind(ErrNoAnswer, err, http.StatusBadGateway, "no answer could be produced")
}

// BadRequest marks an invalid request with a message safe to return to the caller.
func BadRequest(message string) *AppError {
	return newKind(ErrBadRequest, nil, http.StatusBadRequest, message)
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// CauseOf returns the error wrapped by the AppError in err, or nil.
func CauseOf(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Err
	}
	return nil
}

// MessageOf returns the safe message carried by err, or the system fallback.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return SystemErrorMessage
}
