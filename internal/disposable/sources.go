package disposable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
)

// builtinList is the list used when no other source is configured.
const builtinList = `
10minutemail.com
discard.email
dispostable.com
fakeinbox.com
getairmail.com
guerrillamail.com
mailcatch.com
maildrop.cc
mailinator.com
mailnesia.com
mintemail.com
mytemp.email
sharklasers.com
spam4.me
temp-mail.io
temp-mail.org
tempail.com
tempinbox.com
tempmail.org
throwawaymail.com
trashmail.com
trashmail.net
yopmail.com
`

// Embedded returns a Source serving the built-in list.
func Embedded() Source {
	return SourceFunc(func(context.Context) ([]string, error) {
		return ParseList(strings.NewReader(builtinList))
	})
}

// Static returns a Source serving exactly the given domains.
func Static(domains ...string) Source {
	return SourceFunc(func(context.Context) ([]string, error) {
		return domains, nil
	})
}

// File returns a Source that reads a newline-delimited list from path.
func File(path string) Source {
	return SourceFunc(func(context.Context) ([]string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open disposable list: %w", err)
		}
		defer f.Close()

		domains, err := ParseList(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read disposable list %s: %w", path, err)
		}
		return domains, nil
	})
}

// Multi returns a Source serving the union of all sources. A failing
// source fails the whole load.
func Multi(sources ...Source) Source {
	return SourceFunc(func(ctx context.Context) ([]string, error) {
		var all []string
		for _, src := range sources {
			list, err := src.Load(ctx)
			if err != nil {
				return nil, err
			}
			all = append(all, list...)
		}
		return all, nil
	})
}

// Optional wraps src so that a failed load yields an empty list instead of
// an error. Combined with Multi it keeps the other sources usable.
func Optional(name string, src Source) Source {
	return SourceFunc(func(ctx context.Context) ([]string, error) {
		list, err := src.Load(ctx)
		if err != nil {
			slog.Warn("skipping disposable domain source", "source", name, "error", err)
			return nil, nil
		}
		return list, nil
	})
}

// SetMembersAPI is the subset of the redis client used by RedisSource.
type SetMembersAPI interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisOptions configures a RedisSource.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisSource loads the list from the members of a redis set.
type RedisSource struct {
	client SetMembersAPI
	key    string
}

// NewRedisSource creates a RedisSource connected with the given options.
func NewRedisSource(opts RedisOptions) *RedisSource {
	return &RedisSource{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		key: opts.Key,
	}
}

// NewRedisSourceWithClient creates a RedisSource over an existing client,
// used for testing.
func NewRedisSourceWithClient(client SetMembersAPI, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Load implements Source.
func (s *RedisSource) Load(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read redis set %q: %w", s.key, err)
	}
	return members, nil
}

// Close releases the underlying client when it owns one.
func (s *RedisSource) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
