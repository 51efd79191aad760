package minilog

import (
	"fmt"
	"io"
	golog "log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var (
	colorLine  = "\x1b[33m"
	colorDebug = "\x1b[34m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
	colorFatal = "\x1b[31m"
	colorReset = "\x1b[0m"
)

type logger interface {
	Println(...interface{})
}

type minilogger struct {
	logger
	Level   Level
	Color   bool
	filters []string
}

func (l *minilogger) prologue(level Level, name string) (msg string) {
	switch level {
	case DEBUG:
		msg += "DEBUG "
	case INFO:
		msg += "INFO "
	case WARN:
		msg += "WARN "
	case ERROR:
		msg += "ERROR "
	default:
		msg += "FATAL "
	}

	if name == "" {
		_, file, line, _ := runtime.Caller(4)
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		msg += short + ":" + strconv.Itoa(line) + ": "
	} else {
		msg += name + ": "
	}

	if l.Color {
		msg = colorLine + msg
		switch level {
		case DEBUG:
			msg += colorDebug
		case INFO:
			msg += colorInfo
		case WARN:
			msg += colorWarn
		case ERROR:
			msg += colorError
		default:
			msg += colorFatal
		}
	}
	return
}

func (l *minilogger) epilogue() string {
	if l.Color {
		return colorReset
	}
	return ""
}

func (l *minilogger) log(level Level, name, format string, arg ...interface{}) {
	msg := l.prologue(level, name) + fmt.Sprintf(format, arg...) + l.epilogue()
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

var (
	loggers = make(map[string]*minilogger)
	logLock sync.RWMutex
)

// AddLogger registers a named logger that writes lines at level or higher
// to output. output may be os.Stderr or any io.Writer; a *Ring is
// registered with AddRingLogger instead.
func AddLogger(name string, output io.Writer, level Level, color bool) {
	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &minilogger{golog.New(output, "", golog.LstdFlags), level, color, nil}
}

// AddRingLogger registers a named logger backed by an in-memory ring
// buffer rather than an io.Writer, so its contents can be read back later
// with RingFor.
func AddRingLogger(name string, r *Ring, level Level) {
	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &minilogger{r, level, false, nil}
}

// DelLogger removes a named logger added with AddLogger.
func DelLogger(name string) {
	logLock.Lock()
	defer logLock.Unlock()

	delete(loggers, name)
}

// Loggers returns the name of every registered logger.
func Loggers() []string {
	logLock.RLock()
	defer logLock.RUnlock()

	var ret []string
	for k := range loggers {
		ret = append(ret, k)
	}
	return ret
}

// RingFor returns the Ring-backed logger registered under name, if any,
// so its contents can be read back.
func RingFor(name string) (*Ring, bool) {
	logLock.RLock()
	defer logLock.RUnlock()

	l, ok := loggers[name]
	if !ok {
		return nil, false
	}
	r, ok := l.logger.(*Ring)
	return r, ok
}

func doLog(level Level, name, format string, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.log(level, name, format, arg...)
		}
	}
}

func Debug(format string, arg ...interface{}) { doLog(DEBUG, "", format, arg...) }
func Info(format string, arg ...interface{})  { doLog(INFO, "", format, arg...) }
func Warn(format string, arg ...interface{})  { doLog(WARN, "", format, arg...) }
func Error(format string, arg ...interface{}) { doLog(ERROR, "", format, arg...) }
func Fatal(format string, arg ...interface{}) {
	doLog(FATAL, "", format, arg...)
	os.Exit(1)
}
