// Package logger holds the process-wide logrus logger of the custody node.
package logger

import (
	"custody-node/internal/config"
	"fmt"
	"io"
	"os"

	_ "github.com/bnb-chain/tss-lib/v2/common" // registers the "tss-lib" logger
	golog "github.com/ipfs/go-log"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger instance.
var Log = logrus.New()

// InitLogger applies cfg to Log and to the tss-lib logger.
func InitLogger(cfg config.LoggerConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logger level: %w", err)
	}
	Log.SetLevel(level)
	Log.SetFormatter(formatter(cfg.Format))
	Log.SetOutput(output(cfg))

	// tss-lib logs through ipfs/go-log and is noisy below error.
	if cfg.TSSLevel != "" {
		if err := golog.SetLogLevel("tss-lib", cfg.TSSLevel); err != nil {
			return fmt.Errorf("tss-lib log level: %w", err)
		}
	}
	return nil
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

// output writes to stdout, and also to a rotated file when one is configured.
func output(cfg config.LoggerConfig) io.Writer {
	if cfg.FilePath == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// Round returns an entry carrying the fields that identify one round call.
// Callers must never add key material or session bytes to it.
func Round(protocol, role string, round int) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"protocol": protocol,
		"role":     role,
		"round":    round,
	})
}
