// Package ctx
package ctx

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SessionLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type SessionLogValues struct {
	// Added on accept
	SessionID string
	Remote    string
	Variant   string
	StartTime time.Time

	// Added while the session runs
	Route        string
	State        string
	BytesRead    int
	BytesWritten int
	StatusCode   int
	Success      bool

	// Added on close
	Duration time.Duration

	// Override log Log Level
	// useful when a response was sent successfully but the session still
	// hit an error worth surfacing, such as a failed write
	LogLevel string

	// Added dynamically
	Error error
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
func (c *SessionLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

func (c *SessionLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("session_id", c.SessionID)
	enc.AddString("remote", c.Remote)
	enc.AddString("variant", c.Variant)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("duration", c.Duration)
	enc.AddString("state", c.State)
	if c.Route != "" {
		enc.AddString("route", c.Route)
	}
	enc.AddInt("bytes_read", c.BytesRead)
	enc.AddInt("bytes_written", c.BytesWritten)
	if c.StatusCode != 0 {
		enc.AddInt("status_code", c.StatusCode)
	}
	enc.AddBool("success", c.Success)
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	return nil
}

// Context carries the request scoped logger for the admin server.
type Context struct {
	echo.Context
	Log   *zap.SugaredLogger
	Reqid string
}
