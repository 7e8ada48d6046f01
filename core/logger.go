package core

// Logger is the application-wide logging service.
// Implementations may fan entries out to external error trackers;
// a user.User passed in args attaches the acting user to the report.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
