/*
Copyright 2025 Switchyard Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wacul/ptr"

	"github.com/switchyard-finance/switchyard/config"
)

func protectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecretKeyAuthMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{SecretKey: "super-secret"},
		Redis:  config.RedisConfig{Dns: "localhost:6379"},
	})
	router := protectedRouter()

	cases := []struct {
		name   string
		key    string
		status int
	}{
		{"valid key", "super-secret", http.StatusOK},
		{"wrong key", "not-the-secret", http.StatusUnauthorized},
		{"missing key", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.key != "" {
				req.Header.Set(KeyHeader, tc.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tc.status, resp.Code)
		})
	}
}

func TestSecretKeyAuthMiddlewareUnconfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
	})
	router := protectedRouter()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(KeyHeader, "anything")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(&config.Configuration{}))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}

func TestRateLimitMiddlewareThrottles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conf := &config.Configuration{
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond:  ptr.Float64(1),
			Burst:              ptr.Int(1),
			CleanupIntervalSec: ptr.Int(60),
		},
	}
	router := gin.New()
	router.Use(RateLimitMiddleware(conf))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	throttled := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code == http.StatusTooManyRequests {
			throttled = true
		}
	}
	assert.True(t, throttled)
}
