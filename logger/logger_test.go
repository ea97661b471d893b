package logger_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/featurebasedb/parcelsync/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardLogger(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.WithPrefix("[11] ").Warnf("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO:  shown 2")
	assert.Contains(t, lines[1], "[11] WARN:  careful")
	// timestamp is UTC with microseconds
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z `, lines[0])
}

func TestVerboseLogger(t *testing.T) {
	var buf bytes.Buffer
	logger.NewVerboseLogger(&buf).Debugf("visible")
	assert.Contains(t, buf.String(), "DEBUG: visible")
}

type logfs []string

func (l *logfs) Logf(format string, v ...interface{}) {
	*l = append(*l, fmt.Sprintf(format, v...))
}

func TestLogfLogger(t *testing.T) {
	var got logfs
	l := logger.NewLogfLogger(&got)
	l.Debugf("d")
	l.WithPrefix("12: ").Warnf("w %d", 3)
	assert.Equal(t, logfs{"DEBUG: d", "12: WARN:  w 3"}, got)
}

func TestCaptureLogger(t *testing.T) {
	c := logger.NewCaptureLogger()
	c.Infof("one")
	c.WithPrefix("p: ").Errorf("two %s", "x")

	assert.Equal(t, []string{"INFO:  one", "p: ERROR: two x"}, c.Lines())
	assert.True(t, c.Contains("two x"))
	assert.False(t, c.Contains("three"))
}
