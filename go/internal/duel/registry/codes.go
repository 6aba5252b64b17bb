package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
)

const (
	// CodeLength is the fixed length of a room code.
	CodeLength = 6
	// CodeAlphabet leaves out 0, O, 1 and I so codes survive being read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NormalizeCode trims and upper-cases user supplied room codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a normalized code has the room code shape.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// CodeGenerator produces random room codes.
type CodeGenerator struct {
	next func() string
}

// NewCodeGenerator builds a generator over CodeAlphabet.
func NewCodeGenerator() (*CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(CodeAlphabet, CodeLength)
	if err != nil {
		return nil, fmt.Errorf("create code generator: %w", err)
	}
	return &CodeGenerator{next: gen}, nil
}

// Next returns a fresh candidate code. Uniqueness is checked by the registry.
func (g *CodeGenerator) Next() string {
	return g.next()
}

// Reserver claims room codes beyond this process, so that instances sharing a
// NATS subject space never hand out the same code twice.
type Reserver interface {
	Reserve(ctx context.Context, code string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, code string) error
}

// LocalReserver is used when a single instance serves all rooms; the registry
// map is then the only uniqueness domain.
type LocalReserver struct{}

func (LocalReserver) Reserve(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (LocalReserver) Release(context.Context, string) error                        { return nil }

// RedisReserver claims codes with SET NX under a shared key prefix.
type RedisReserver struct {
	client     *redis.Client
	prefix     string
	instanceID string
}

// NewRedisReserver wraps an existing client. instanceID is stored as the key
// value for debugging ownership.
func NewRedisReserver(client *redis.Client, instanceID string) *RedisReserver {
	return &RedisReserver{
		client:     client,
		prefix:     "duel:room:",
		instanceID: instanceID,
	}
}

func (r *RedisReserver) Reserve(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+code, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve room code %s: %w", code, err)
	}
	return ok, nil
}

func (r *RedisReserver) Release(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, r.prefix+code).Err(); err != nil {
		return fmt.Errorf("release room code %s: %w", code, err)
	}
	return nil
}
