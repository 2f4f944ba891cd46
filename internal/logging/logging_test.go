package logging

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitFallsBackToInfo(t *testing.T) {
	Init("not-a-level", "production")
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
	_, ok := Log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	Init("debug", "development")
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
	_, ok = Log.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestSafeGoRecoversPanic(t *testing.T) {
	out := &lockedBuffer{}
	Log.SetOutput(out)
	defer Discard()

	done := make(chan struct{})
	SafeGo("explode", func() {
		defer close(done)
		panic("boom")
	})
	<-done

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("background task panicked"))
	}, time.Second, 10*time.Millisecond)
}
