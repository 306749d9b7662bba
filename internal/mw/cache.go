package mw

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a response as it was first rendered.
type snapshot struct {
	status int
	header http.Header
	body   []byte
}

func (s snapshot) replay(c *gin.Context) {
	h := c.Writer.Header()
	for k, v := range s.header {
		h[k] = v
	}
	h.Set("X-Cache", "HIT")
	c.Writer.WriteHeader(s.status)
	_, _ = c.Writer.Write(s.body)
}

// teeWriter copies everything the handler writes into buf.
type teeWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// cacheKey is "<user id> <request uri>". Anonymous requests share the empty
// user id.
func cacheKey(c *gin.Context) string {
	userID := ""
	if s, ok := SessionFrom(c); ok {
		userID = s.UserID
	}
	return userID + " " + c.Request.RequestURI
}

// Cache serves repeated GETs of a user from memory for ttl. Only 2xx
// responses are stored. It must run after Session.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(c)
		if v, ok := store.Get(key); ok {
			v.(snapshot).replay(c)
			c.Abort()
			return
		}

		tee := teeWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = tee
		c.Next()

		if status := tee.Status(); status >= 200 && status < 300 {
			store.Set(key, snapshot{
				status: status,
				header: tee.Header().Clone(),
				body:   tee.buf.Bytes(),
			}, ttl)
		}
	}
}

// InvalidateUser drops every cached response of userID.
func InvalidateUser(store *cache.Cache, userID string) {
	prefix := userID + " "
	for key := range store.Items() {
		if strings.HasPrefix(key, prefix) {
			store.Delete(key)
		}
	}
}
