package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config contient la configuration du logger
type Config struct {
	ConsoleLevel string // debug, info, warning, error, critical
	FileLevel    string
	OutputPath   string // Chemin du fichier de log, vide pour désactiver
	MaxSizeMB    int    // Taille maximale d'un fichier de log
	MaxFiles     int    // Nombre de fichiers à conserver
	MaxAgeDays   int
	Compress     bool // Compresser les anciens logs
	Console      zapcore.WriteSyncer
}

// New crée un nouveau logger: console lisible et fichier JSON avec rotation
func New(cfg Config) (*zap.Logger, error) {
	console := cfg.Console
	if console == nil {
		console = zapcore.Lock(os.Stderr)
	}

	consoleEncoder := zap.NewDevelopmentEncoderConfig()
	consoleEncoder.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoder),
			console,
			zap.NewAtomicLevelAt(parseLogLevel(cfg.ConsoleLevel)),
		),
	}

	if cfg.OutputPath != "" {
		// Créer le répertoire de logs si nécessaire
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
			return nil, fmt.Errorf("impossible de créer le répertoire de logs: %w", err)
		}

		rotator := &lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxFiles,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(rotator),
			zap.NewAtomicLevelAt(parseLogLevel(cfg.FileLevel)),
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// fileEncoderConfig reprend le format JSON des fichiers de log
func fileEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// parseLogLevel convertit une string en niveau de log zap
func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warning", "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "critical", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
