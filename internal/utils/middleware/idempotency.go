package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inkwell/server/internal/shared/response"
	goredis "github.com/redis/go-redis/v9"
)

const (
	IdempotencyKeyHeader  = "Idempotency-Key"
	idempotencyKeyPrefix  = "idempotency:"
	defaultIdempotencyTTL = 24 * time.Hour
	idempotencyLockTTL    = 30 * time.Second
)

type storedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key, so
// a retried checkout request does not open a second provider session. The key
// is scoped to the user, route and request body. Requests without the header,
// or with no Redis configured, pass through.
func Idempotency(rdb goredis.UniversalClient, ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if rdb == nil || key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := idempotencyCacheKey(c, key)

		if data, err := rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var stored storedResponse
			if json.Unmarshal(data, &stored) == nil {
				c.Data(stored.StatusCode, stored.ContentType, stored.Body)
				c.Abort()
				return
			}
		}

		lockKey := cacheKey + ":lock"
		locked, err := rdb.SetNX(ctx, lockKey, "1", idempotencyLockTTL).Result()
		if err != nil {
			c.Next()
			return
		}
		if !locked {
			response.AbortFail(c, http.StatusConflict, "REQUEST_IN_PROGRESS",
				"a request with this idempotency key is already being processed", nil)
			return
		}
		defer rdb.Del(ctx, lockKey)

		w := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		c.Next()

		status := w.Status()
		if status >= 200 && status < 300 {
			data, err := json.Marshal(storedResponse{
				StatusCode:  status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        w.body.Bytes(),
			})
			if err == nil {
				rdb.Set(ctx, cacheKey, data, ttl)
			}
		}
	}
}

func idempotencyCacheKey(c *gin.Context, key string) string {
	h := sha256.New()
	h.Write([]byte(GetUserID(c).String()))
	h.Write([]byte(":" + c.FullPath() + ":" + key + ":"))
	h.Write([]byte(bodyHash(c)))
	return idempotencyKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// bodyHash hashes the request body and restores it for the handler.
func bodyHash(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
