package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	out      io.Writer = os.Stderr
	logFile  *os.File
	logMutex sync.Mutex
	debug    bool
)

// SetOutput redirects all log lines to w. A previously opened log file is closed.
func SetOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	closeFileLocked()
	out = w
}

// SetOutputFile appends log lines to the file at path, creating it if needed.
func SetOutputFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logMutex.Lock()
	defer logMutex.Unlock()
	closeFileLocked()
	logFile = f
	out = f
	return nil
}

// SetDebug enables or disables DEBUG lines.
func SetDebug(enabled bool) {
	logMutex.Lock()
	defer logMutex.Unlock()
	debug = enabled
}

// Close releases the log file, if any, and falls back to stderr.
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()
	if logFile != nil {
		closeFileLocked()
		out = os.Stderr
	}
}

func closeFileLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func log(level, msg string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	if level == "DEBUG" && !debug {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(out, "%s [%s] %s\n", timestamp, level, msg)
	if logFile != nil {
		logFile.Sync()
	}
}

func LogDebug(format string, args ...interface{}) {
	log("DEBUG", fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	log("INFO", fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	log("ERROR", fmt.Sprintf(format, args...))
}
