package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/proxvoice/internal/app"
	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/app/world"
	"github.com/dkeye/proxvoice/internal/config"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Worlds:   world.NewManager(world.Options{VoiceRange: 300}),
		Policy:   app.SimplePolicy{},
	}
	cfg := &config.Config{Mode: "test", Secret: "test-secret", SendBuffer: 16, SignalLimit: 100, SignalWindow: time.Second}
	r, err := SetupRouter(ctx, cfg, o)
	require.NoError(t, err)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o
}

type wsPeer struct {
	t     *testing.T
	conn  *websocket.Conn
	token string
}

func dial(t *testing.T, srv *httptest.Server) *wsPeer {
	t.Helper()
	token := uuid.NewString()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	h := stdhttp.Header{}
	h.Set("Cookie", ClientTokenCookie+"="+token)
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsPeer{t: t, conn: conn, token: token}
}

func (p *wsPeer) id() domain.PeerID { return core.SessionID(p.token).Peer() }

func (p *wsPeer) send(v any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(v))
}

// expect reads frames until one of type typ arrives.
func (p *wsPeer) expect(typ string) json.RawMessage {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := p.conn.ReadMessage()
		require.NoError(p.t, err)
		var env domain.Envelope
		require.NoError(p.t, json.Unmarshal(data, &env))
		if env.Type == typ {
			return data
		}
	}
}

func (p *wsPeer) expectError(code string) {
	p.t.Helper()
	var msg domain.ErrorMsg
	require.NoError(p.t, json.Unmarshal(p.expect(domain.MsgError), &msg))
	assert.Equal(p.t, code, msg.Error)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	resp, err := stdhttp.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var cookie *stdhttp.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == ClientTokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "a client token is issued")
	_, err = uuid.Parse(cookie.Value)
	assert.NoError(t, err)
}

func TestSignalFlow(t *testing.T) {
	t.Parallel()
	srv, o := newServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	a.send(domain.SignalMsg{Type: domain.MsgSignal, To: b.id(), SignalType: domain.SignalOffer, Payload: json.RawMessage(`{}`)})
	a.expectError(domain.ErrCodeNotJoined)

	a.send(domain.JoinMsg{Type: domain.MsgJoin, Name: "alice"})
	var welcome domain.WelcomeMsg
	require.NoError(t, json.Unmarshal(a.expect(domain.MsgWelcome), &welcome))
	assert.Equal(t, a.id(), welcome.ID)
	assert.Equal(t, domain.DefaultWorld, welcome.World)
	assert.Equal(t, 300.0, welcome.Range)

	b.send(domain.JoinMsg{Type: domain.MsgJoin, World: domain.DefaultWorld, Name: "bob"})
	require.NoError(t, json.Unmarshal(b.expect(domain.MsgWelcome), &welcome))
	require.Len(t, welcome.Peers, 1)
	assert.Equal(t, a.id(), welcome.Peers[0].ID)
	assert.Equal(t, "alice", welcome.Peers[0].Username)

	var joined domain.PeerMsg
	require.NoError(t, json.Unmarshal(a.expect(domain.MsgPeerJoined), &joined))
	assert.Equal(t, b.id(), joined.User.ID)

	t.Run("signals are relayed with the sender id", func(t *testing.T) {
		b.send(domain.SignalMsg{Type: domain.MsgSignal, To: a.id(), SignalType: domain.SignalAnswer, Payload: json.RawMessage(`{"type":"answer","sdp":"x"}`)})
		var got domain.SignalMsg
		require.NoError(t, json.Unmarshal(a.expect(domain.MsgSignal), &got))
		assert.Equal(t, b.id(), got.From)
		assert.Equal(t, domain.SignalAnswer, got.SignalType)
		assert.JSONEq(t, `{"type":"answer","sdp":"x"}`, string(got.Payload))
	})

	t.Run("bad envelopes", func(t *testing.T) {
		b.send(domain.SignalMsg{Type: domain.MsgSignal, To: a.id(), SignalType: "bogus"})
		b.expectError(domain.ErrCodeBadPayload)
		b.send(domain.SignalMsg{Type: domain.MsgSignal, To: "nobody", SignalType: domain.SignalICE})
		b.expectError(domain.ErrCodeUnknownPeer)
		require.NoError(t, b.conn.WriteMessage(websocket.TextMessage, []byte("{")))
		b.expectError(domain.ErrCodeBadPayload)
	})

	t.Run("ping whoami and position", func(t *testing.T) {
		b.send(domain.Envelope{Type: domain.MsgPing})
		b.expect(domain.MsgPong)

		b.send(domain.Envelope{Type: domain.MsgWhoAmI})
		var who domain.WhoAmIMsg
		require.NoError(t, json.Unmarshal(b.expect(domain.MsgWhoAmI), &who))
		assert.Equal(t, b.id(), who.ID)
		assert.Equal(t, "bob", who.Username)
		assert.Equal(t, domain.DefaultWorld, who.World)

		b.send(domain.PositionMsg{Type: domain.MsgPosition, X: 10, Y: 20})
		b.send(domain.Envelope{Type: domain.MsgPing})
		b.expect(domain.MsgPong)
		w, ok := o.Worlds.Get(domain.DefaultWorld)
		require.True(t, ok)
		near := w.Nearby(core.SessionID(a.token))
		require.Len(t, near, 1)
		assert.InDelta(t, 22.36, near[0].Distance, 0.01)
	})

	t.Run("world listing", func(t *testing.T) {
		resp, err := stdhttp.Get(srv.URL + "/api/worlds/main/members")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
		var body struct {
			Members []domain.PeerInfo `json:"members"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body.Members, 2)

		resp, err = stdhttp.Get(srv.URL + "/api/worlds/nowhere/members")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, stdhttp.StatusNotFound, resp.StatusCode)
	})

	t.Run("leaving notifies the rest", func(t *testing.T) {
		b.send(domain.Envelope{Type: domain.MsgLeave})
		b.expect(domain.MsgLeft)
		var left domain.PeerMsg
		require.NoError(t, json.Unmarshal(a.expect(domain.MsgPeerLeft), &left))
		assert.Equal(t, b.id(), left.User.ID)
	})

	t.Run("evicting a world", func(t *testing.T) {
		req, err := stdhttp.NewRequest(stdhttp.MethodDelete, srv.URL+"/api/worlds/main", nil)
		require.NoError(t, err)
		resp, err := stdhttp.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, stdhttp.StatusNoContent, resp.StatusCode)
		a.expect(domain.MsgLeft)

		resp, err = stdhttp.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, stdhttp.StatusNotFound, resp.StatusCode)
	})
}

func TestWorldList(t *testing.T) {
	t.Parallel()
	srv, o := newServer(t)
	o.Worlds.GetOrCreate("cave")

	resp, err := stdhttp.Get(srv.URL + "/api/worlds")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Worlds []core.WorldInfo `json:"worlds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Worlds, 1)
	assert.Equal(t, domain.WorldName("cave"), body.Worlds[0].Name)
}

func TestSetupRouterNeedsSecret(t *testing.T) {
	t.Parallel()
	_, err := SetupRouter(context.Background(), &config.Config{Mode: "release"}, &orch.Orchestrator{})
	assert.ErrorIs(t, err, config.ErrMissingSecret)
}

func TestProfileSession(t *testing.T) {
	t.Parallel()
	srv, o := newServer(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	token := uuid.NewString()
	jar.SetCookies(base, []*stdhttp.Cookie{{Name: ClientTokenCookie, Value: token, Path: "/"}})
	client := &stdhttp.Client{Jar: jar}

	put := func(body string) *stdhttp.Response {
		req, err := stdhttp.NewRequest(stdhttp.MethodPut, srv.URL+"/api/profile", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := put(`{"name":"alice","world":"cave"}`)
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	assert.Equal(t, stdhttp.StatusBadRequest, put(`{"name":"`+strings.Repeat("x", domain.MaxUsernameLen+1)+`"}`).StatusCode)
	assert.Equal(t, stdhttp.StatusBadRequest, put(`not json`).StatusCode)

	got, err := client.Get(srv.URL + "/api/profile")
	require.NoError(t, err)
	defer got.Body.Close()
	var profile struct {
		Name  string           `json:"name"`
		World domain.WorldName `json:"world"`
	}
	require.NoError(t, json.NewDecoder(got.Body).Decode(&profile))
	assert.Equal(t, "alice", profile.Name)
	assert.Equal(t, domain.WorldName("cave"), profile.World)

	// a new connection gets the stored name and world
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	conn, _, err := (&websocket.Dialer{Jar: jar}).Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	p := &wsPeer{t: t, conn: conn, token: token}

	p.send(domain.JoinMsg{Type: domain.MsgJoin})
	var welcome domain.WelcomeMsg
	require.NoError(t, json.Unmarshal(p.expect(domain.MsgWelcome), &welcome))
	assert.Equal(t, domain.WorldName("cave"), welcome.World)
	assert.Equal(t, p.id(), welcome.ID)

	p.send(domain.Envelope{Type: domain.MsgWhoAmI})
	var who domain.WhoAmIMsg
	require.NoError(t, json.Unmarshal(p.expect(domain.MsgWhoAmI), &who))
	assert.Equal(t, "alice", who.Username)
	assert.Equal(t, domain.WorldName("cave"), who.World)

	// saving while connected renames the live member
	require.Equal(t, stdhttp.StatusOK, put(`{"name":"alicia","world":"cave"}`).StatusCode)
	u, ok := o.Registry.User(core.SessionID(token))
	require.True(t, ok)
	assert.Equal(t, "alicia", u.Username)
}

func TestJoinClampsWorldName(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	a := dial(t, srv)
	a.send(domain.JoinMsg{Type: domain.MsgJoin, World: domain.WorldName(strings.Repeat("a", 35) + "世界")})
	var welcome domain.WelcomeMsg
	require.NoError(t, json.Unmarshal(a.expect(domain.MsgWelcome), &welcome))
	assert.Equal(t, domain.WorldName(strings.Repeat("a", 35)), welcome.World)
}
