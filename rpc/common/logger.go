package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// LoggerNames lists the named loggers of the application. InitLoggers applies the
// configured level to each of them.
var LoggerNames = []string{
	"rpc", "transport", "server", "client",
	"shard", "coordinator", "provision", "tick", "snapshot",
}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

// nodeLogger writes "LEVEL | component | message" lines
type nodeLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *nodeLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *nodeLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *nodeLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *nodeLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *nodeLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *nodeLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.log("PANIC", "%s", message)
	panic(message)
}

func (l *nodeLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-11s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var factoryOnce sync.Once

// logOutput is the destination of all loggers created by CreateLogger
var logOutput io.Writer = os.Stdout

// CreateLogger is the logger factory registered with dragonboat's logger package
func CreateLogger(pkgName string) logger.ILogger {
	return &nodeLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(logOutput, "", log.Ldate|log.Ltime),
	}
}

// ParseLogLevel converts a level name to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom logger factory and sets the level of every
// named logger. It must run before the first logger.GetLogger call of a package
// that should use the custom format.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	factoryOnce.Do(func() { logger.SetLoggerFactory(CreateLogger) })
	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
