package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupBaseLogger installs the shared logrus configuration. It is called from
// main before any other package logs.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// SetDebug switches the global log level between debug and info.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

// ConfigureLogOutput optionally mirrors log output into a rotated file under
// logs/. Rotation is handled by lumberjack so long-running deployments do not
// grow an unbounded log file.
func ConfigureLogOutput(toFile bool) error {
	if !toFile {
		return nil
	}
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join("logs", "web-proxy-api.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return nil
}
