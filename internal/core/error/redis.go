package errx

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to the unified Error type. redis.Nil becomes ErrNotFound.
func WrapRedis(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return New(KindStorage, op, errors.Join(ErrNotFound, err), RedisNotFoundMessage)
	}

	return New(KindStorage, op, err, RedisErrorMessage)
}
