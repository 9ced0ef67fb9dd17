package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/qcserver/internal/config"
	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/level"
	"github.com/zeusync/qcserver/internal/core/physics"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/core/snapshot"
	"github.com/zeusync/qcserver/internal/core/vm"
	"github.com/zeusync/qcserver/internal/core/vmath"
)

// buildProgram makes boxes that drift along x and an exit that asks for
// e1m2 one think after spawning.
func buildProgram(t *testing.T) *progs.Program {
	t.Helper()
	b := progs.NewBuilder()
	precacheModel := b.Builtin("precache_model", int(vm.BuiltinPrecacheModel))
	setModel := b.Builtin("setmodel", int(vm.BuiltinSetModel))
	changeLevel := b.Builtin("changelevel", int(vm.BuiltinChangeLevel))

	mdl := b.Str("progs/box.mdl")
	ws := b.Func("worldspawn")
	ws.Emit(progs.OpStoreS, mdl, progs.OfsParm0, 0)
	ws.Emit(progs.OpCall1, b.FunctionRef(precacheModel), 0, 0)
	ws.End()

	box := b.Func("item_box")
	p := box.Local("p", progs.TypePointer)
	noclip, drift := b.Float(float32(entity.MoveNoClip)), b.Vector(10, 0, 0)
	box.Emit(progs.OpStoreEnt, progs.GlobalSelf, progs.OfsParm0, 0)
	box.Emit(progs.OpStoreS, mdl, progs.OfsParm1, 0)
	box.Emit(progs.OpCall2, b.FunctionRef(setModel), 0, 0)
	box.Emit(progs.OpAddress, progs.GlobalSelf, b.FieldRef(progs.FieldMoveType), p)
	box.Emit(progs.OpStorePF, noclip, p, 0)
	box.Emit(progs.OpAddress, progs.GlobalSelf, b.FieldRef(progs.FieldVelocity), p)
	box.Emit(progs.OpStorePV, drift, p, 0)
	box.End()

	exit := b.Func("exit_think")
	exit.Emit(progs.OpStoreS, b.Str("e1m2"), progs.OfsParm0, 0)
	exit.Emit(progs.OpCall1, b.FunctionRef(changeLevel), 0, 0)
	exitThink := exit.End()

	trig := b.Func("trigger_exit")
	tp := trig.Local("p", progs.TypePointer)
	tn := trig.Local("n", progs.TypeFloat)
	trig.Emit(progs.OpAddF, progs.GlobalTime, b.Float(0.1), tn)
	trig.Emit(progs.OpAddress, progs.GlobalSelf, b.FieldRef(progs.FieldNextThink), tp)
	trig.Emit(progs.OpStorePF, tn, tp, 0)
	trig.Emit(progs.OpAddress, progs.GlobalSelf, b.FieldRef(progs.FieldThink), tp)
	trig.Emit(progs.OpStorePFnc, b.FunctionRef(exitThink), tp, 0)
	trig.End()

	prog, err := b.Build()
	require.NoError(t, err)
	return prog
}

func testMaps(name string) (*level.MapDef, error) {
	floor := physics.Brush{
		Mins:     vmath.Vec3{-512, -512, -64},
		Maxs:     vmath.Vec3{512, 512, 0},
		Contents: physics.ContentsSolid,
	}
	models := map[string]level.ModelBounds{
		"progs/box.mdl": {Mins: vmath.Vec3{-16, -16, 0}, Maxs: vmath.Vec3{16, 16, 32}},
	}
	switch name {
	case "start":
		return &level.MapDef{Name: name, Brushes: []physics.Brush{floor}, Models: models, Entities: `
{ "classname" "worldspawn" }
{ "classname" "item_box" "origin" "0 0 32" }
`}, nil
	case "exit":
		return &level.MapDef{Name: name, Brushes: []physics.Brush{floor}, Models: models, Entities: `
{ "classname" "worldspawn" }
{ "classname" "trigger_exit" }
`}, nil
	case "e1m2":
		return &level.MapDef{Name: name, Brushes: []physics.Brush{floor}, Models: models, Entities: `
{ "classname" "worldspawn" }
{ "classname" "item_box" "origin" "64 0 32" }
{ "classname" "item_box" "origin" "-64 0 32" }
`}, nil
	}
	return nil, fmt.Errorf("no map %q", name)
}

func testConfig() config.Server {
	cfg := config.Default().Server
	cfg.AcceptRate = 0
	return cfg
}

func newTestServer(t *testing.T, cfg config.Server, mapName string) *Server {
	t.Helper()
	b := bus.New()
	lvl, err := level.New(buildProgram(t), level.WithBus(b))
	require.NoError(t, err)
	s, err := New(cfg, lvl, b, WithMapLoader(testMaps))
	require.NoError(t, err)
	require.NoError(t, s.LoadMap(mapName))
	return s
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *snapshot.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	f, err := snapshot.Decode(data)
	require.NoError(t, err)
	return f
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(testConfig(), nil, bus.New())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	b := bus.New()
	lvl, err := level.New(buildProgram(t), level.WithBus(b))
	require.NoError(t, err)
	cfg := testConfig()
	cfg.TickRate = 0
	_, err = New(cfg, lvl, b)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWebSocketFeedSendsFullThenDelta(t *testing.T) {
	s := newTestServer(t, testConfig(), "start")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Step(0.1))
	first := readFrame(t, conn)
	assert.True(t, first.Full)
	assert.Equal(t, "start", first.Map)
	require.Len(t, first.Entities, 1)
	box := first.Entities[0]
	assert.Equal(t, snapshot.FieldAll, box.Changed)
	assert.Equal(t, float32(2), box.ModelIndex)

	require.NoError(t, s.Step(0.1))
	next := readFrame(t, conn)
	assert.False(t, next.Full)
	require.Len(t, next.Entities, 1)
	assert.Equal(t, box.ID, next.Entities[0].ID)
	assert.Equal(t, snapshot.FieldOrigin, next.Entities[0].Changed)
	assert.InDelta(t, box.Origin[0]+1, next.Entities[0].Origin[0], 0.001)
}

func TestLevelChangeResyncsSubscribers(t *testing.T) {
	s := newTestServer(t, testConfig(), "exit")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 10*time.Millisecond)

	var f *snapshot.Frame
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Step(0.1))
		if s.View().Map == "e1m2" {
			break
		}
	}
	require.Equal(t, "e1m2", s.View().Map)

	// The exit has no model, so the first frame on the old map is an
	// empty full frame and the change arrives as a second full frame.
	for f == nil || f.Map != "e1m2" {
		f = readFrame(t, conn)
	}
	assert.True(t, f.Full)
	assert.Len(t, f.Entities, 2)
	require.NotEmpty(t, f.Events)
	assert.Equal(t, bus.KindLevelChange, f.Events[0].Kind)
	assert.Equal(t, "e1m2", f.Events[0].Text)
}

func TestLevelChangeToMissingMapFails(t *testing.T) {
	b := bus.New()
	lvl, err := level.New(buildProgram(t), level.WithBus(b))
	require.NoError(t, err)
	s, err := New(testConfig(), lvl, b, WithMapLoader(func(name string) (*level.MapDef, error) {
		if name == "e1m2" {
			return nil, fmt.Errorf("no map %q", name)
		}
		return testMaps(name)
	}))
	require.NoError(t, err)
	require.NoError(t, s.LoadMap("exit"))

	var stepErr error
	for i := 0; i < 5 && stepErr == nil; i++ {
		stepErr = s.Step(0.1)
	}
	require.Error(t, stepErr)
	assert.Contains(t, stepErr.Error(), "e1m2")
}

func TestInspectionEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig(), "e1m2")
	require.NoError(t, s.Step(0.1))
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/entities")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "e1m2", view.Map)
	assert.Len(t, view.Entities, 2)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, view.Tick, h.Tick)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRejectedWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSubscribers = 1
	s := newTestServer(t, cfg, "start")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	dial(t, srv)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 10*time.Millisecond)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketOriginCheck(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://game.example"}
	s := newTestServer(t, cfg, "start")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Eventually(t, func() bool { return s.Hub().Len() == 0 }, time.Second, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": []string{"https://game.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	s := newTestServer(t, testConfig(), "start")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
