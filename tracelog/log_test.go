package tracelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempLog(t *testing.T, policy FlushPolicy) *Log {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	l := newLog("test", true, false, policy)
	require.NotNil(t, l.file)
	t.Cleanup(l.Close)
	return l
}

func readLogFile(t *testing.T, l *Log) string {
	t.Helper()
	data, err := os.ReadFile(l.filename)
	require.NoError(t, err)
	return string(data)
}

func TestFlushAfterMaxUpdates(t *testing.T) {
	policy := DefaultFlushPolicy()
	policy.MaxUpdates = 3
	l := newTempLog(t, policy)

	l.Record("1.2.3.4:1->5.6.7.8:2", "one")
	l.Record("1.2.3.4:1->5.6.7.8:2", "two")
	assert.Empty(t, readLogFile(t, l))

	l.Record("1.2.3.4:1->5.6.7.8:2", "three")
	content := readLogFile(t, l)
	assert.Equal(t, 3, strings.Count(content, "\n"))
	assert.Contains(t, content, "1.2.3.4:1->5.6.7.8:2,one")
}

func TestEntryFormat(t *testing.T) {
	l := newTempLog(t, DefaultFlushPolicy())

	l.Record("10.0.0.1:1000->10.0.0.2:2000", "EVENT | detail")
	l.Flush()

	content := readLogFile(t, l)
	// "[2006-01-02 15:04:05.000000 UTC+8]src->dst,payload"
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6} UTC[+-]\d+\]10\.0\.0\.1:1000->10\.0\.0\.2:2000,EVENT \| detail\n$`, content)
}

func TestTruncateWritesMarker(t *testing.T) {
	l := newTempLog(t, DefaultFlushPolicy())

	l.Record("", "before truncate")
	l.Flush()
	l.Truncate()

	content := readLogFile(t, l)
	assert.Equal(t, startMarker+"\n", content)
	assert.NotContains(t, content, "before truncate")
}

func TestSizeCapTruncates(t *testing.T) {
	policy := FlushPolicy{MaxUpdates: 1, MaxAge: time.Hour, MaxSize: 64}
	l := newTempLog(t, policy)

	for i := 0; i < 10; i++ {
		l.Record("", strings.Repeat("x", 40))
	}
	l.Flush()

	content := readLogFile(t, l)
	assert.Contains(t, content, sizeCapMarker)
}

func TestDisabledLogIsNoOp(t *testing.T) {
	l := newLog("disabled-test", false, false, DefaultFlushPolicy())
	l.Record("", "nothing")
	l.Flush()
	l.Close()

	_, err := os.Stat("disabled-test.log")
	assert.True(t, os.IsNotExist(err))
}

func TestManagerUnknownPrintOutName(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	m := &Manager{logs: make(map[string]*Log), dummy: newLog("dummy", false, false, DefaultFlushPolicy())}
	err = m.Init(true, false, []string{"no-such-log"})
	assert.Error(t, err)
}

func TestManagerGetUnknownReturnsDummy(t *testing.T) {
	m := &Manager{logs: make(map[string]*Log), dummy: newLog("dummy", false, false, DefaultFlushPolicy())}
	l := m.Get("never-registered")
	require.NotNil(t, l)
	// No file behind it; recording is safe and silent.
	l.Record("", "dropped")
}

func TestManagerInitOpensRegisteredLogs(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	m := &Manager{logs: make(map[string]*Log), dummy: newLog("dummy", false, false, DefaultFlushPolicy())}
	require.NoError(t, m.Init(true, false, nil))
	t.Cleanup(m.Close)

	for _, name := range []string{"packet", "tcp", "reassm", "reassm_data", "tls"} {
		l := m.Get(name)
		assert.Equal(t, name, l.Name())
		l.Record("", "hello")
	}
	m.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 5)
}
