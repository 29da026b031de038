package web

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestGetLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(10), 20)

	limiter1 := rl.getLimiter("192.168.1.1")
	limiter2 := rl.getLimiter("192.168.1.1")
	if limiter1 != limiter2 {
		t.Error("Same IP should reuse its limiter")
	}

	limiter3 := rl.getLimiter("192.168.1.2")
	if limiter1 == limiter3 {
		t.Error("Different IPs should get different limiters")
	}
}

func TestRateLimitMiddlewareRejectsBurstOverflow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Burst of 2 with no refill to speak of within the test.
	rl := NewRateLimiter(rate.Limit(1), 2)
	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/", func(c *gin.Context) {
		c.Status(200)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != 200 || codes[1] != 200 {
		t.Errorf("Requests within burst should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Request beyond burst should get 429, got %d", codes[2])
	}
}

func TestMaxBytesMiddlewareRejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(MaxBytesMiddleware(64))
	router.POST("/", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(200)
	})

	small := httptest.NewRequest("POST", "/", bytes.NewReader([]byte("ok")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, small)
	if w.Code != 200 {
		t.Errorf("Small body should pass, got %d", w.Code)
	}

	big := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(strings.Repeat("x", 128))))
	big.ContentLength = 128
	w = httptest.NewRecorder()
	router.ServeHTTP(w, big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Oversized body should get 413, got %d", w.Code)
	}
}
