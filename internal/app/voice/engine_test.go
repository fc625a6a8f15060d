package voice

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dkeye/proxvoice/internal/app/audio"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectPair(t *testing.T) (*harness, *harness) {
	t.Helper()
	clk := newClock()
	a := newHarness("a", clk)
	b := newHarness("b", clk)
	link(a, b)
	a.engine.ConnectToPeer("b")
	require.Equal(t, domain.StateConnected, a.engine.State("b"))
	b.factory.last("a").onState(webrtc.PeerConnectionStateConnected)
	require.Equal(t, domain.StateConnected, b.engine.State("a"))
	return a, b
}

func TestConnectToPeer(t *testing.T) {
	t.Parallel()

	t.Run("sends offer and registers before sending", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		registered := false
		a.transport.deliver = func(env domain.SignalEnvelope) {
			registered = a.engine.Registry().Get(env.To) != nil
		}
		a.engine.ConnectToPeer("b")

		offers := a.transport.SentOfType(domain.SignalOffer)
		require.Len(t, offers, 1)
		assert.Equal(t, domain.PeerID("b"), offers[0].To)
		assert.True(t, registered)
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
		assert.Equal(t, 2, a.events.count(core.EventSessionState, "b"))
	})

	t.Run("at most one session per peer", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.ConnectToPeer("b")
		a.engine.ConnectToPeer("b")
		assert.Len(t, a.factory.created("b"), 1)
		assert.Len(t, a.transport.SentOfType(domain.SignalOffer), 1)
		assert.Equal(t, 1, a.engine.Registry().Len())
	})

	t.Run("self is ignored", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.ConnectToPeer("a")
		assert.Zero(t, a.engine.Registry().Len())
		assert.Empty(t, a.transport.Sent())
	})

	t.Run("voice disabled is a no-op", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.audio.active = false
		a.engine.ConnectToPeer("b")
		assert.Zero(t, a.engine.Registry().Len())
		assert.Empty(t, a.factory.created("b"))
	})

	t.Run("offer failure leaves nothing behind", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.factory.offerErr = errors.New("boom")
		a.engine.ConnectToPeer("b")
		assert.Zero(t, a.engine.Registry().Len())
		require.Len(t, a.factory.created("b"), 1)
		assert.True(t, a.factory.last("b").Closed())
	})

	t.Run("transport failure is contained", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.transport.err = errors.New("relay down")
		assert.NotPanics(t, func() { a.engine.ConnectToPeer("b") })
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
	})
}

func TestSymmetricNegotiation(t *testing.T) {
	t.Parallel()
	a, b := connectPair(t)

	assert.Contains(t, a.engine.GetConnectedPeers(), domain.PeerID("b"))
	assert.Contains(t, b.engine.GetConnectedPeers(), domain.PeerID("a"))
	assert.Len(t, a.factory.created("b"), 1)
	assert.Len(t, b.factory.created("a"), 1)
	assert.Equal(t, 1, a.events.count(core.EventPeerConnected, "b"))
	assert.Equal(t, 1, b.events.count(core.EventPeerConnected, "a"))

	// the responder already holds a session, so its own connect attempt
	// must not open a second one
	b.engine.ConnectToPeer("a")
	assert.Len(t, b.factory.created("a"), 1)
}

func TestHandleOffer(t *testing.T) {
	t.Parallel()

	offerFrom := func(t *testing.T, from, to domain.PeerID) domain.SignalEnvelope {
		t.Helper()
		h := newHarness(from, nil)
		h.engine.ConnectToPeer(to)
		offers := h.transport.SentOfType(domain.SignalOffer)
		require.Len(t, offers, 1)
		return offers[0]
	}

	t.Run("duplicate offer wave reuses the session", func(t *testing.T) {
		t.Parallel()
		b := newHarness("b", nil)
		offer := offerFrom(t, "a", "b")

		b.engine.HandleSignal(offer)
		b.engine.HandleSignal(offer)

		assert.Len(t, b.factory.created("a"), 1)
		assert.Len(t, b.transport.SentOfType(domain.SignalAnswer), 2)
		assert.Equal(t, domain.StateAnswerSent, b.engine.State("a"))
		assert.Equal(t, 1, b.engine.Registry().Len())
	})

	t.Run("ignored while voice is disabled", func(t *testing.T) {
		t.Parallel()
		b := newHarness("b", nil)
		b.audio.active = false
		b.engine.HandleSignal(offerFrom(t, "a", "b"))
		assert.Zero(t, b.engine.Registry().Len())
		assert.Empty(t, b.transport.Sent())
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		t.Parallel()
		b := newHarness("b", nil)
		b.engine.HandleSignal(domain.SignalEnvelope{From: "a", Type: domain.SignalOffer, Payload: []byte("{")})
		assert.Zero(t, b.engine.Registry().Len())
	})

	t.Run("unknown signal type is dropped", func(t *testing.T) {
		t.Parallel()
		b := newHarness("b", nil)
		assert.NotPanics(t, func() {
			b.engine.HandleSignal(domain.SignalEnvelope{From: "a", Type: "bye"})
		})
		assert.Zero(t, b.engine.Registry().Len())
	})
}

func TestGlare(t *testing.T) {
	t.Parallel()
	clk := newClock()
	a := newHarness("a", clk)
	b := newHarness("b", clk)

	a.engine.ConnectToPeer("b")
	b.engine.ConnectToPeer("a")
	aOffer := a.transport.SentOfType(domain.SignalOffer)[0]
	bOffer := b.transport.SentOfType(domain.SignalOffer)[0]
	link(a, b)

	// the larger id keeps its own offer
	b.engine.HandleSignal(aOffer)
	assert.Equal(t, domain.StateOfferSent, b.engine.State("a"))
	assert.Empty(t, b.transport.SentOfType(domain.SignalAnswer))

	// the smaller id yields and answers; the answer completes b's offer
	a.engine.HandleSignal(bOffer)
	require.Len(t, a.factory.created("b"), 2)
	assert.True(t, a.factory.created("b")[0].Closed())
	assert.False(t, a.factory.last("b").Closed())
	assert.Equal(t, domain.StateAnswerSent, a.engine.State("b"))
	assert.Equal(t, domain.StateConnected, b.engine.State("a"))
	assert.Len(t, b.factory.created("a"), 1)

	a.factory.last("b").onState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, domain.StateConnected, a.engine.State("b"))
	assert.Equal(t, 1, a.engine.Registry().Len())
	assert.Equal(t, 1, b.engine.Registry().Len())
}

func TestHandleAnswer(t *testing.T) {
	t.Parallel()

	t.Run("from unknown peer is dropped", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.HandleSignal(domain.SignalEnvelope{From: "z", Type: domain.SignalAnswer, Payload: []byte(`{"type":"answer","sdp":"x"}`)})
		assert.Zero(t, a.engine.Registry().Len())
		assert.Empty(t, a.factory.created("z"))
	})

	t.Run("on a stable connection is ignored", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.engine.HandleSignal(domain.SignalEnvelope{From: "b", Type: domain.SignalAnswer, Payload: []byte(`{"type":"answer","sdp":"x"}`)})
		assert.Equal(t, domain.StateConnected, a.engine.State("b"))
		assert.False(t, a.factory.last("b").Closed())
	})
}

func TestICE(t *testing.T) {
	t.Parallel()
	cand := []byte(`{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`)

	t.Run("from unknown peer is dropped", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.HandleSignal(domain.SignalEnvelope{From: "z", Type: domain.SignalICE, Payload: cand})
		assert.Zero(t, a.engine.Registry().Len())
	})

	t.Run("before the remote description is swallowed", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.ConnectToPeer("b")
		a.engine.HandleSignal(domain.SignalEnvelope{From: "b", Type: domain.SignalICE, Payload: cand})
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
		assert.Zero(t, a.factory.last("b").Candidates())

		// negotiation still completes once the answer arrives
		b := newHarness("b", nil)
		b.engine.HandleSignal(a.transport.SentOfType(domain.SignalOffer)[0])
		answers := b.transport.SentOfType(domain.SignalAnswer)
		require.Len(t, answers, 1)
		a.engine.HandleSignal(answers[0])
		assert.Equal(t, domain.StateConnected, a.engine.State("b"))
		assert.Len(t, a.factory.created("b"), 1)

		a.engine.HandleSignal(domain.SignalEnvelope{From: "b", Type: domain.SignalICE, Payload: cand})
		assert.Equal(t, 1, a.factory.last("b").Candidates())
	})

	t.Run("before the offer on the answering side", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		a := newHarness("a", clk)
		b := newHarness("b", clk)
		a.engine.ConnectToPeer("b")
		offer := a.transport.SentOfType(domain.SignalOffer)[0]
		link(a, b)

		b.engine.HandleSignal(domain.SignalEnvelope{From: "a", Type: domain.SignalICE, To: "b", Payload: cand})
		assert.Zero(t, b.engine.Registry().Len(), "an early candidate opens no session")

		b.engine.HandleSignal(offer)
		assert.Equal(t, domain.StateConnected, a.engine.State("b"))
		require.Len(t, b.factory.created("a"), 1)
		assert.Equal(t, domain.StateAnswerSent, b.engine.State("a"))
		b.factory.last("a").onState(webrtc.PeerConnectionStateConnected)
		assert.Equal(t, domain.StateConnected, b.engine.State("a"))

		b.engine.HandleSignal(domain.SignalEnvelope{From: "a", Type: domain.SignalICE, To: "b", Payload: cand})
		assert.Equal(t, 1, b.factory.last("a").Candidates())
	})

	t.Run("after negotiation is applied", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.engine.HandleSignal(domain.SignalEnvelope{From: "b", Type: domain.SignalICE, Payload: cand})
		assert.Equal(t, 1, a.factory.last("b").Candidates())
	})

	t.Run("local candidates are forwarded one by one", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.ConnectToPeer("b")
		m := a.factory.last("b")
		m.onICE(webrtc.ICECandidateInit{Candidate: "c1"})
		m.onICE(webrtc.ICECandidateInit{Candidate: "c2"})
		assert.Len(t, a.transport.SentOfType(domain.SignalICE), 2)

		a.engine.DisconnectPeer("b")
		m.onICE(webrtc.ICECandidateInit{Candidate: "c3"})
		assert.Len(t, a.transport.SentOfType(domain.SignalICE), 2)
	})
}

func TestUpdateNearbyPeers(t *testing.T) {
	t.Parallel()

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		d := a.engine.UpdateNearbyPeers([]domain.PeerID{"b", "c", "a"}, 300)
		assert.ElementsMatch(t, []domain.PeerID{"b", "c"}, d.Connected)

		d = a.engine.UpdateNearbyPeers([]domain.PeerID{"b", "c", "a"}, 300)
		assert.True(t, d.Empty())
		assert.Len(t, a.factory.created("b"), 1)
		assert.Len(t, a.factory.created("c"), 1)
		assert.Equal(t, []domain.PeerID{"b", "c"}, a.engine.Registry().IDs())
		assert.Equal(t, 300.0, a.engine.VoiceRange())
	})

	t.Run("range exit mid negotiation", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.UpdateNearbyPeers([]domain.PeerID{"b"}, 300)
		require.Equal(t, domain.StateOfferSent, a.engine.State("b"))
		m := a.factory.last("b")

		d := a.engine.UpdateNearbyPeers(nil, 300)
		assert.Equal(t, []domain.PeerID{"b"}, d.Disconnected)
		assert.True(t, m.Closed())
		assert.Zero(t, a.engine.Registry().Len())

		// the late answer finds no session and creates none
		a.engine.HandleSignal(domain.SignalEnvelope{From: "b", Type: domain.SignalAnswer, Payload: []byte(`{"type":"answer","sdp":"x"}`)})
		assert.Zero(t, a.engine.Registry().Len())
		assert.Len(t, a.factory.created("b"), 1)
	})
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	t.Run("teardown releases everything", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		m := a.factory.last("b")
		m.onTrack(fakeStream{id: "t1", kind: webrtc.RTPCodecTypeAudio})
		actx := a.audio.AudioContext()
		require.Equal(t, 1, actx.Nodes())
		pb := a.sink.of("b")[0]

		a.engine.DisconnectPeer("b")
		assert.True(t, m.Closed())
		assert.True(t, pb.Closed())
		assert.Zero(t, actx.Nodes())
		assert.Zero(t, a.engine.Registry().Len())
		_, ok := a.engine.PeerGain("b")
		assert.False(t, ok)
		assert.Equal(t, 1, a.events.count(core.EventPeerDisconnected, "b"))

		a.engine.DisconnectPeer("b")
		assert.Equal(t, 1, a.events.count(core.EventPeerDisconnected, "b"))
	})

	t.Run("unknown peer is a no-op", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		assert.NotPanics(t, func() { a.engine.DisconnectPeer("nobody") })
	})

	t.Run("disabling audio closes every session", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.UpdateNearbyPeers([]domain.PeerID{"b", "c"}, 300)
		a.audio.disable()
		assert.Zero(t, a.engine.Registry().Len())
		assert.True(t, a.factory.last("b").Closed())
		assert.True(t, a.factory.last("c").Closed())
	})

	t.Run("failed media tears down", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.factory.last("b").onState(webrtc.PeerConnectionStateFailed)
		assert.Zero(t, a.engine.Registry().Len())
		assert.Empty(t, a.engine.GetConnectedPeers())
	})

	t.Run("stale callback does not touch the new session", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.ConnectToPeer("b")
		old := a.factory.last("b")
		a.engine.DisconnectPeer("b")
		a.engine.ConnectToPeer("b")

		old.onState(webrtc.PeerConnectionStateFailed)
		old.onState(webrtc.PeerConnectionStateConnected)
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
		assert.False(t, a.factory.last("b").Closed())
	})
}

func TestRemoteTrack(t *testing.T) {
	t.Parallel()

	t.Run("replaces previous playback", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		m := a.factory.last("b")
		m.onTrack(fakeStream{id: "t1", kind: webrtc.RTPCodecTypeAudio})
		m.onTrack(fakeStream{id: "t2", kind: webrtc.RTPCodecTypeAudio})

		pbs := a.sink.of("b")
		require.Len(t, pbs, 2)
		assert.True(t, pbs[0].Closed())
		assert.False(t, pbs[1].Closed())
		assert.Equal(t, 1, a.audio.AudioContext().Nodes())
		assert.NotNil(t, pbs[1].gain)
	})

	t.Run("video is ignored", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.factory.last("b").onTrack(fakeStream{id: "v", kind: webrtc.RTPCodecTypeVideo})
		assert.Empty(t, a.sink.of("b"))
	})
}

func TestSpatialAudio(t *testing.T) {
	t.Parallel()

	t.Run("ramps toward the distance volume", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.factory.last("b").onTrack(fakeStream{id: "t1", kind: webrtc.RTPCodecTypeAudio})

		a.engine.UpdateSpatialAudio("b", 50, 100)
		want := audio.SpatialVolume(50, 100, 1)
		target, ok := a.engine.PeerGainTarget("b")
		require.True(t, ok)
		assert.InDelta(t, want, target, 1e-9)

		prev, _ := a.engine.PeerGain("b")
		assert.InDelta(t, 1.0, prev, 1e-9)
		for i := 0; i < 10; i++ {
			a.clock.Advance(50 * time.Millisecond)
			v, _ := a.engine.PeerGain("b")
			assert.LessOrEqual(t, v, prev)
			assert.GreaterOrEqual(t, v, want)
			prev = v
		}
		assert.InDelta(t, want, prev, 0.01)
	})

	t.Run("master volume scales the target", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.factory.last("b").onTrack(fakeStream{id: "t1", kind: webrtc.RTPCodecTypeAudio})
		a.engine.SetMasterVolume(0.5)
		a.engine.UpdateSpatialAudio("b", 0, 100)
		target, _ := a.engine.PeerGainTarget("b")
		assert.InDelta(t, 0.5, target, 1e-9)

		a.engine.UpdateSpatialAudio("b", 150, 100)
		target, _ = a.engine.PeerGainTarget("b")
		assert.Zero(t, target)
	})

	t.Run("no gain node is a no-op", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		assert.NotPanics(t, func() { a.engine.UpdateSpatialAudio("b", 10, 100) })
		_, ok := a.engine.PeerGain("b")
		assert.False(t, ok)
	})
}

func TestSweep(t *testing.T) {
	t.Parallel()

	expire := func(h *harness) []domain.PeerID {
		h.engine.ConnectToPeer("b")
		h.clock.Advance(DefaultNegotiationTimeout + time.Second)
		return h.engine.Sweep()
	}

	t.Run("expires stalled negotiation then cools down", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		for i := 0; i < DefaultMaxAttempts; i++ {
			assert.Equal(t, []domain.PeerID{"b"}, expire(a))
			assert.True(t, a.factory.last("b").Closed())
		}
		a.engine.ConnectToPeer("b")
		assert.Zero(t, a.engine.Registry().Len())
		assert.Len(t, a.factory.created("b"), DefaultMaxAttempts)

		a.clock.Advance(DefaultRetryCooldown)
		a.engine.ConnectToPeer("b")
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
	})

	t.Run("young negotiation survives", func(t *testing.T) {
		t.Parallel()
		a := newHarness("a", nil)
		a.engine.ConnectToPeer("b")
		a.clock.Advance(DefaultNegotiationTimeout / 2)
		assert.Empty(t, a.engine.Sweep())
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
	})

	t.Run("connected sessions are never swept", func(t *testing.T) {
		t.Parallel()
		a, _ := connectPair(t)
		a.clock.Advance(time.Hour)
		assert.Empty(t, a.engine.Sweep())
		assert.Equal(t, domain.StateConnected, a.engine.State("b"))
	})

	t.Run("connecting resets the attempt count", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		a := newHarness("a", clk)
		for i := 0; i < DefaultMaxAttempts-1; i++ {
			expire(a)
		}
		b := newHarness("b", clk)
		link(a, b)
		a.engine.ConnectToPeer("b")
		require.Equal(t, domain.StateConnected, a.engine.State("b"))
		a.engine.DisconnectPeer("b")

		a.transport.deliver = nil
		expire(a)
		a.engine.ConnectToPeer("b")
		assert.Equal(t, domain.StateOfferSent, a.engine.State("b"))
	})
}

func TestSpatialVolumeCurve(t *testing.T) {
	t.Parallel()
	prev := math.Inf(1)
	for d := 0.0; d <= 120; d += 10 {
		v := audio.SpatialVolume(d, 100, 1)
		assert.LessOrEqual(t, v, prev)
		prev = v
	}
	assert.Zero(t, audio.SpatialVolume(100, 100, 1))
}
