package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey carries the client's key for an unsafe request.
	// Retries of one logical write reuse the key.
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderIdempotencyReplayed marks responses rebuilt from a stored result.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"
)

const (
	ctxKeyIdem       = "idem"
	ctxKeyRateBypass = "rate.bypass"

	defaultMaxKeyLen = 200
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// idemState is what IdempotencyValidator learned about the request.
type idemState struct {
	key    string
	replay bool
}

func idemFrom(c *gin.Context) idemState {
	v, _ := c.Get(ctxKeyIdem)
	st, _ := v.(idemState)
	return st
}

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	st := idemFrom(c)
	return st.key, st.key != ""
}

// IsReplay reports whether a stored result exists for the request's key.
func IsReplay(c *gin.Context) bool { return idemFrom(c).replay }

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope names the keyspace of a request: the collection for record
	// writes, the chat id for messages. nil means c.Param("id").
	Scope func(c *gin.Context) string
}

func (o IdempotencyOptions) withDefaults() IdempotencyOptions {
	if o.MaxLen <= 0 {
		o.MaxLen = defaultMaxKeyLen
	}
	if o.Pattern == nil {
		o.Pattern = defaultKeyPattern
	}
	if o.Scope == nil {
		o.Scope = func(c *gin.Context) string { return c.Param("id") }
	}
	return o
}

// IdempotencyLookup reports whether an unexpired result is stored for
// (userID, scope, key).
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator checks the Idempotency-Key header when present and
// answers 400 bad_idempotency_key for a malformed one. A key with a stored
// result marks the request as a replay, which handlers serve from storage
// and the rate limiter lets through. A failing lookup is logged and the
// request proceeds as new.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > opts.MaxLen || !opts.Pattern.MatchString(key) {
			abort(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}

		st := idemState{key: key}
		if lookup != nil {
			exists, err := lookup(c.Request.Context(), UserID(c), opts.Scope(c), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("idempotency lookup failed")
			}
			st.replay = exists
		}
		c.Set(ctxKeyIdem, st)
		if st.replay {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}
