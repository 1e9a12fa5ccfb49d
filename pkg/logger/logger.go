// Package logger configures the process-wide logrus logger and hands out
// component-scoped entries.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Init sets level and formatter of the standard logger and routes the paho
// client's error and warning output through it.
func Init(level, format string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "", FormatText:
		f := new(logrus.TextFormatter)
		f.TimestampFormat = "2006-01-02 15:04:05"
		f.FullTimestamp = true
		logrus.SetFormatter(f)
	default:
		return fmt.Errorf("log format %q: want text or json", format)
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(lvl)

	paho := For("paho")
	mqtt.ERROR = log.New(paho.WriterLevel(logrus.ErrorLevel), "", 0)
	mqtt.CRITICAL = log.New(paho.WriterLevel(logrus.ErrorLevel), "", 0)
	mqtt.WARN = log.New(paho.WriterLevel(logrus.WarnLevel), "", 0)
	return nil
}

// Default returns an entry without extra fields.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// For returns an entry tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// OrDefault returns l, or a default entry when l is nil.
func OrDefault(l *logrus.Entry, component string) *logrus.Entry {
	if l != nil {
		return l
	}
	return For(component)
}
