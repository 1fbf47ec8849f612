package logging

// Levels accepted by Logger.LogLevelf. Values outside the range are
// reported at LogLevelError so nothing is silently dropped.
const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

// Logger is handed to every agent component. Its method set matches the
// hsu-core logger, so one backend can serve both.
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogLevelFunc func(level int, format string, args ...interface{})
type LogFunc func(format string, args ...interface{})

// LogFuncs names the backend sinks. LogLevelf, when set, takes every
// message; otherwise each level goes to its own func and nil funcs drop.
type LogFuncs struct {
	LogLevelf LogLevelFunc
	Debugf    LogFunc
	Infof     LogFunc
	Warnf     LogFunc
	Errorf    LogFunc
}

type prefixLogger struct {
	prefix  string
	leveled LogLevelFunc
	sinks   [LogLevelError + 1]LogFunc
}

func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &prefixLogger{
		prefix:  prefix,
		leveled: funcs.LogLevelf,
		sinks:   [...]LogFunc{funcs.Debugf, funcs.Infof, funcs.Warnf, funcs.Errorf},
	}
}

// WithPrefix scopes parent, e.g. to one subsystem of the agent
func WithPrefix(parent Logger, prefix string) Logger {
	return NewLogger(prefix, LogFuncs{LogLevelf: parent.LogLevelf})
}

// NewNopLogger discards everything
func NewNopLogger() Logger {
	return &prefixLogger{}
}

func (l *prefixLogger) LogLevelf(level int, format string, args ...interface{}) {
	if level < LogLevelDebug || level > LogLevelError {
		level = LogLevelError
	}
	format = l.prefix + format

	if l.leveled != nil {
		l.leveled(level, format, args...)
		return
	}
	if sink := l.sinks[level]; sink != nil {
		sink(format, args...)
	}
}

func (l *prefixLogger) Debugf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelDebug, msg, args...)
}

func (l *prefixLogger) Infof(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelInfo, msg, args...)
}

func (l *prefixLogger) Warnf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelWarn, msg, args...)
}

func (l *prefixLogger) Errorf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelError, msg, args...)
}
