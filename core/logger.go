package core

// Logger is any logging service. Args may carry errors, extra data maps or the acting Principal.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Principal identifies an authenticated caller.
type Principal struct {
	UserID string
	Email  string
}
