package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRound(t *testing.T) {
	RoundsTotal.Reset()
	ErrorsTotal.Reset()

	RecordRound("ecdsa-dkg", "1", "", 20*time.Millisecond)
	RecordRound("ecdsa-dkg", "2", "round_mismatch", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(RoundsTotal.WithLabelValues("ecdsa-dkg", "1", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(RoundsTotal.WithLabelValues("ecdsa-dkg", "2", StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ErrorsTotal.WithLabelValues("round_mismatch")))
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	HTTPRequestsTotal.Reset()

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/ping", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "custody_http_requests_total"))
}
