package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerRedactsTokens(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)))
	r.POST("/webhooks/user/:token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	do(r, http.MethodPost, "/webhooks/user/a1b2c3d4e5f6a7b8", "")
	do(r, http.MethodGet, "/missing", "")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "/webhooks/user/:token", first["path"])
	assert.NotContains(t, string(lines[0]), "a1b2c3d4e5f6a7b8")
	assert.Equal(t, "info", first["level"])

	assert.Equal(t, "/missing", second["path"])
	assert.Equal(t, "warn", second["level"])
	assert.Equal(t, float64(404), second["status"])
}
