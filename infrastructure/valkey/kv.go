package valkey

import (
	"context"
	"strconv"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/zapfunnel/zapfunnel/pkg/distlock"
)

// Lua scripts keep compare-then-mutate atomic on the server; a plain GET
// followed by DEL/EXPIRE would race with lock takeover after TTL lapse.
const compareAndDeleteScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const compareAndExpireScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// LockKV adapts Client to the distlock.KV contract.
type LockKV struct {
	client *Client
}

func NewLockKV(client *Client) *LockKV {
	return &LockKV{client: client}
}

func (k *LockKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cmd := k.client.inner.B().Set().
		Key(key).
		Value(value).
		Nx().
		Ex(ttl).
		Build()
	err := k.client.inner.Do(ctx, cmd).Error()
	if err == nil {
		return true, nil
	}
	if valkeylib.IsValkeyNil(err) {
		// NX refused: someone else holds the key.
		return false, nil
	}
	return false, err
}

func (k *LockKV) Get(ctx context.Context, key string) (string, error) {
	cmd := k.client.inner.B().Get().Key(key).Build()
	val, err := k.client.inner.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return "", distlock.ErrNotFound
		}
		return "", err
	}
	return val, nil
}

func (k *LockKV) CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	cmd := k.client.inner.B().Eval().
		Script(compareAndExpireScript).
		Numkeys(1).
		Key(key).
		Arg(token, formatMillis(ttl)).
		Build()
	n, err := k.client.inner.Do(ctx, cmd).ToInt64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (k *LockKV) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	cmd := k.client.inner.B().Eval().
		Script(compareAndDeleteScript).
		Numkeys(1).
		Key(key).
		Arg(token).
		Build()
	n, err := k.client.inner.Do(ctx, cmd).ToInt64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func formatMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
