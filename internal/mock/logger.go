package mock

import "copytrader/internal/core"

// Logger is a no-op core.ILogger for tests.
type Logger struct{}

func (Logger) Debug(msg string, fields ...interface{}) {}
func (Logger) Info(msg string, fields ...interface{})  {}
func (Logger) Warn(msg string, fields ...interface{})  {}
func (Logger) Error(msg string, fields ...interface{}) {}
func (Logger) Fatal(msg string, fields ...interface{}) {}

func (l Logger) WithField(string, interface{}) core.ILogger     { return l }
func (l Logger) WithFields(map[string]interface{}) core.ILogger { return l }
