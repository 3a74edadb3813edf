package mainboilerplate

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitLogFormatsAndLevels(t *testing.T) {
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetReportCaller(false)
		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.InfoLevel)
	}()
	var buf bytes.Buffer

	initLog(LogConfig{Level: "warn", Format: "json"}, &buf)
	log.WithField("dir", "/a/dir").Info("suppressed")
	log.WithField("dir", "/a/dir").Warn("emitted")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	require.Equal(t, "emitted", event["msg"])
	require.Equal(t, "warning", event["level"])
	require.Equal(t, "/a/dir", event["dir"])
	require.NotContains(t, event, "func")

	buf.Reset()
	initLog(LogConfig{Level: "debug", Format: "text", Caller: true}, &buf)
	log.Debug("hello")
	require.Contains(t, buf.String(), `msg=hello`)
	require.Contains(t, buf.String(), `func=`)
}
