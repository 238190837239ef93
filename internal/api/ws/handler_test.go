package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/host"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/pipeline"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
)

type frame struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func setup(t *testing.T) (*websocket.Conn, *host.Host) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := library.NewRegistry(library.FetcherFunc(func(_ context.Context, locator string) ([]byte, error) {
		if locator == "https://d3js.org/d3.v7.min.js" {
			return []byte(`var d3 = { version: "7-test" };`), nil
		}
		return nil, library.ErrNotFound
	}))
	h := host.New(host.DefaultContainerID, nil)
	rt, err := sandbox.New(sandbox.DefaultConfig(), sandbox.WithHost(h), sandbox.WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	orch, err := pipeline.New(pipeline.Deps{Loader: reg, Runtime: rt, Host: h})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/v1/stream", NewHandler(orch, monitoring.NewMetrics(), nil).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// greeting, then the current state
	assert.Equal(t, TypeSystem, read(t, conn).Type)
	assert.Equal(t, TypeState, read(t, conn).Type)
	return conn, h
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, sonic.Unmarshal(data, &f), string(data))
	return f
}

// readUntil skips frames until one of type typ arrives
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := read(t, conn); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return frame{}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestPingPong(t *testing.T) {
	conn, _ := setup(t)
	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, TypePong, read(t, conn).Type)
}

func TestVisualizePushesStateAndOutcome(t *testing.T) {
	conn, h := setup(t)

	send(t, conn, `{"type":"visualize","data":{"code":"var p = document.createElement('p'); p.textContent = d3.version; document.getElementById('viz').appendChild(p);","dimension":"2D"}}`)

	st := readUntil(t, conn, TypeState)
	assert.Equal(t, true, st.Data["containerPresent"])

	out := readUntil(t, conn, TypeOutcome)
	assert.Equal(t, "succeeded", out.Data["status"])
	assert.Equal(t, "<p>7-test</p>", h.InnerHTML())
}

func TestVisualizeFaultIsReported(t *testing.T) {
	conn, _ := setup(t)

	send(t, conn, `{"type":"visualize","data":{"code":"throw new Error('nope')","dimension":"2D"}}`)
	out := readUntil(t, conn, TypeOutcome)
	assert.Equal(t, "failed", out.Data["status"])
	assert.Contains(t, out.Data["errorMessage"], "nope")
}

func TestModeChangeIsPushed(t *testing.T) {
	conn, h := setup(t)

	send(t, conn, `{"type":"mode","mode":"code"}`)
	st := readUntil(t, conn, TypeState)
	assert.Equal(t, "code", st.Data["displayMode"])
	assert.Equal(t, "code", string(h.State().DisplayMode))
}

func TestInvalidMessages(t *testing.T) {
	conn, _ := setup(t)

	tests := []struct {
		name string
		msg  string
	}{
		{"not json", `{type`},
		{"unknown type", `{"type":"launch"}`},
		{"bad mode", `{"type":"mode","mode":"sideways"}`},
		{"visualize without data", `{"type":"visualize"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.msg)
			f := read(t, conn)
			assert.Equal(t, TypeError, f.Type)
			assert.NotEmpty(t, f.Data["message"])
		})
	}

	// connection survives bad frames
	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, TypePong, read(t, conn).Type)
}

func TestMessageLabel(t *testing.T) {
	assert.Equal(t, TypeVisualize, messageLabel(TypeVisualize))
	assert.Equal(t, "unknown", messageLabel("x-random"))
}
