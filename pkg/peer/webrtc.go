package peer

import (
	"context"
	"time"

	"webrtc-streamer/pkg/log"
	"webrtc-streamer/pkg/signal"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

const rtcpBufferSize = 1500

// WebRTC is a send-only media peer with one H.264 video track and one Opus
// audio track. It answers a single remote offer and reports its state changes
// as ordered events (see: Events()).
type WebRTC struct {
	signal Signal

	conn *webrtc.PeerConnection

	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample

	events *eventQueue
}

type WebRTCConfig struct {
	STUN []string
	// StreamID groups both tracks into one media stream. A random one is used
	// when empty.
	StreamID string

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func NewWebRTC(cfg WebRTCConfig, signal Signal) (*WebRTC, error) {
	ice := make([]webrtc.ICEServer, len(cfg.STUN))

	for i, stun := range cfg.STUN {
		ice[i] = webrtc.ICEServer{
			URLs: []string{"stun:" + stun},
		}
	}

	media := &webrtc.MediaEngine{}

	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "media engine")
	}

	interceptors := &interceptor.Registry{}

	if err := webrtc.RegisterDefaultInterceptors(media, interceptors); err != nil {
		return nil, errors.Wrap(err, "interceptors")
	}

	settings := webrtc.SettingEngine{}

	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 && cfg.KeepAliveInterval > 0 {
		settings.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithInterceptorRegistry(interceptors),
		webrtc.WithSettingEngine(settings),
	)

	conn, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: ice,
	})
	if err != nil {
		return nil, err
	}

	if len(cfg.StreamID) == 0 {
		cfg.StreamID = uuid.New().String()
	}

	p := &WebRTC{
		signal: signal,
		conn:   conn,
		events: newEventQueue(),
	}

	p.videoTrack, err = p.addTrack(webrtc.MimeTypeH264, "video", cfg.StreamID)
	if err != nil {
		p.Close()

		return nil, errors.Wrap(err, "video track")
	}

	p.audioTrack, err = p.addTrack(webrtc.MimeTypeOpus, "audio", cfg.StreamID)
	if err != nil {
		p.Close()

		return nil, errors.Wrap(err, "audio track")
	}

	p.conn.OnICEConnectionStateChange(p.onICEStateChange)
	p.conn.OnConnectionStateChange(p.onConnStateChange)

	return p, nil
}

func (p *WebRTC) VideoTrack() *webrtc.TrackLocalStaticSample {
	return p.videoTrack
}

func (p *WebRTC) AudioTrack() *webrtc.TrackLocalStaticSample {
	return p.audioTrack
}

// Events is closed once the peer is closed.
func (p *WebRTC) Events() <-chan Event {
	return p.events.out
}

// Negotiate reads the remote offer from Signal, answers it and writes the
// answer back once ICE gathering is complete.
func (p *WebRTC) Negotiate(ctx context.Context) error {
	encoded, err := p.signal.ReadOffer(ctx)
	if err != nil {
		return errors.Wrap(err, "read offer")
	}

	offer, err := signal.DecodeDescription(encoded)
	if err != nil {
		return errors.Wrap(err, "decode offer")
	}

	if offer.Type != webrtc.SDPTypeOffer {
		return errors.Wrapf(signal.ErrBadEncoding, "expected an offer, got %s", offer.Type)
	}

	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return errors.Wrap(err, "set remote description")
	}

	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return errors.Wrap(err, "create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.conn)

	if err := p.conn.SetLocalDescription(answer); err != nil {
		return errors.Wrap(err, "set local description")
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	local := p.conn.LocalDescription()
	if local == nil {
		return errors.New("local description was not generated")
	}

	payload, err := signal.EncodeDescription(*local)
	if err != nil {
		return err
	}

	return errors.Wrap(p.signal.WriteAnswer(payload), "write answer")
}

func (p *WebRTC) Close() error {
	defer p.events.close()

	return p.conn.Close()
}

func (p *WebRTC) addTrack(mimeType, id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType: mimeType,
	}, id, streamID)
	if err != nil {
		return nil, err
	}

	sender, err := p.conn.AddTrack(track)
	if err != nil {
		return nil, err
	}

	go p.drainRTCP(sender)

	return track, nil
}

// drainRTCP keeps reading RTCP so that interceptors (NACK, reports) run.
func (p *WebRTC) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, rtcpBufferSize)

	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *WebRTC) onICEStateChange(state webrtc.ICEConnectionState) {
	log.Info("ICE connection state changed: ", state)

	p.events.push(Event{
		Type:     EventICEConnectionState,
		ICEState: state,
	})
}

func (p *WebRTC) onConnStateChange(state webrtc.PeerConnectionState) {
	log.Info("peer connection state changed: ", state)

	p.events.push(Event{
		Type:      EventPeerConnectionState,
		PeerState: state,
	})
}
