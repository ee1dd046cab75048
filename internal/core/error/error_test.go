package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorKinds(t *testing.T) {
	t.Run("kind matches through wrapping", func(t *testing.T) {
		err := fmt.Errorf("book answer: %w", Retrieval(errors.New("dial tcp: refused")))
		assert.True(t, errors.Is(err, ErrRetrieval))
		assert.False(t, errors.Is(err, ErrGeneration))
		assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	})

	t.Run("underlying error still matches", func(t *testing.T) {
		cause := errors.New("boom")
		err := Generation(cause)
		assert.True(t, errors.Is(err, cause))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("place not found", func(t *testing.T) {
		err := PlaceNotFound("Atlantis")
		assert.True(t, errors.Is(err, ErrPlaceNotFound))
		assert.Equal(t, http.StatusNotFound, StatusOf(err))
		assert.Contains(t, err.Error(), "Atlantis")
	})

	t.Run("bad request message is safe", func(t *testing.T) {
		err := BadRequest("Message must not be empty")
		assert.Equal(t, "Message must not be empty", err.Error())
		assert.Equal(t, "Message must not be empty", MessageOf(err))
		assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	})

	t.Run("plain errors fall back to 500", func(t *testing.T) {
		err := errors.New("plain")
		assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
		assert.Equal(t, SystemErrorMessage, MessageOf(err))
	})

	t.Run("as exposes the app error", func(t *testing.T) {
		var appErr *AppError
		require.True(t, errors.As(fmt.Errorf("wrap: %w", NoAnswer(nil)), &appErr))
		assert.Equal(t, ErrNoAnswer, appErr.Kind)
	})
}

func TestWrapRedis(t *testing.T) {
	assert.Nil(t, WrapRedis("lrange chatlog", nil))

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "missing key", err: redis.Nil, status: http.StatusNotFound, message: RedisNotFoundMessage},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, message: RedisTimeoutMessage},
		{name: "cancelled", err: fmt.Errorf("read: %w", context.Canceled), status: http.StatusGatewayTimeout, message: RedisTimeoutMessage},
		{name: "connection", err: errors.New("conn reset"), status: http.StatusBadGateway, message: RedisErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapRedis("rpush chatlog", tt.err)
			assert.Equal(t, tt.status, StatusOf(err))
			assert.Equal(t, tt.message, MessageOf(err))
			assert.True(t, errors.Is(err, tt.err))
			assert.Contains(t, CauseOf(err).Error(), "redis rpush chatlog: ")
		})
	}
}

func TestCauseOf(t *testing.T) {
	cause := errors.New("quota exceeded")
	assert.Equal(t, cause, CauseOf(fmt.Errorf("book: %w", Generation(cause))))
	assert.Nil(t, CauseOf(BadRequest("empty")))
	assert.Nil(t, CauseOf(cause))
}
