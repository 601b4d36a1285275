package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReportsWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("store", Ping(func(context.Context) error { return nil }))
	c.Register("indexes", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "1 index has errors"}
	})
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["store"].Status)

	c.Register("redis", Ping(func(context.Context) error { return errors.New("connection refused") }))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "connection refused", report.Components["redis"].Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("store", Ping(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("kafka", Ping(func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
