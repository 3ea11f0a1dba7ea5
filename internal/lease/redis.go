// Package lease hands out per-article leases stored in Redis, so that the
// session of an article is hosted by one server instance at a time.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rpggio/inkwell/internal/domain/session"
)

// DefaultPrefix prefixes the key of every lease.
const DefaultPrefix = "inkwell:lease:"

// DefaultTTL is how long a lease outlives its last renewal.
const DefaultTTL = 15 * time.Minute

// acquireScript renews the caller's lease or takes a free one. It returns
// {1, owner} for a new lease, {0, owner} for a renewal and {-1, owner} when
// someone else holds it.
var acquireScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return {0, owner}
end
if owner then
	return {-1, owner}
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return {1, ARGV[1]}
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures a Redis lease set.
type Options struct {
	Prefix string
	TTL    time.Duration
	// Instance identifies this server; a random id is used when empty.
	Instance string
}

// Redis implements session.Leases on a Redis server.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	instance string
}

var _ session.Leases = (*Redis)(nil)

// NewRedis creates a lease set over client.
func NewRedis(client redis.UniversalClient, opts Options) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	return &Redis{
		client:   client,
		prefix:   opts.Prefix,
		ttl:      opts.TTL,
		instance: opts.Instance,
	}
}

// Instance returns the id this lease set writes as the owner.
func (r *Redis) Instance() string {
	return r.instance
}

// Acquire takes or renews the lease on articleID. It returns an error
// wrapping session.ErrHostedElsewhere when another instance holds it.
func (r *Redis) Acquire(ctx context.Context, articleID string) (bool, error) {
	res, err := acquireScript.Run(ctx, r.client, []string{r.key(articleID)}, r.instance, r.ttl.Milliseconds()).Slice()
	if err != nil {
		return false, fmt.Errorf("acquiring lease on %s: %w", articleID, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("acquiring lease on %s: unexpected reply %v", articleID, res)
	}
	state, _ := res[0].(int64)
	owner, _ := res[1].(string)
	switch state {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("%w: held by %s", session.ErrHostedElsewhere, owner)
	}
}

// Release deletes the lease on articleID if this instance holds it.
func (r *Redis) Release(ctx context.Context, articleID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(articleID)}, r.instance).Err(); err != nil {
		return fmt.Errorf("releasing lease on %s: %w", articleID, err)
	}
	return nil
}

// Owner returns the instance holding the lease on articleID, or "" when it
// is free.
func (r *Redis) Owner(ctx context.Context, articleID string) (string, error) {
	owner, err := r.client.Get(ctx, r.key(articleID)).Result()
	switch {
	case err == redis.Nil:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("reading lease on %s: %w", articleID, err)
	}
	return owner, nil
}

func (r *Redis) key(articleID string) string {
	return r.prefix + articleID
}
