package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// RedisTimeoutMessage describes a chat log call cut short by its deadline.
const RedisTimeoutMessage = "chat log store timed out"

// WrapRedis maps a failed chat log command to an AppError. op names the
// command, e.g. "rpush chatlog", and prefixes the cause. A missing key is 404,
// a deadline or cancellation is 504 and everything else is 502.
func WrapRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	cause := fmt.Errorf("redis %s: %w", op, err)

	switch {
	case errors.Is(err, redis.Nil):
		return New(cause, http.StatusNotFound, RedisNotFoundMessage)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return New(cause, http.StatusGatewayTimeout, RedisTimeoutMessage)
	default:
		return New(cause, http.StatusBadGateway, RedisErrorMessage)
	}
}
