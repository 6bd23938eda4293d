package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"webrtc-streamer/pkg/bitstream"
	"webrtc-streamer/pkg/pacer"
	"webrtc-streamer/pkg/peer"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	events chan peer.Event
	closed atomic.Int32
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan peer.Event, 16),
	}
}

func (t *fakeTransport) Events() <-chan peer.Event {
	return t.events
}

func (t *fakeTransport) Close() error {
	t.closed.Add(1)
	t.once.Do(func() {
		close(t.events)
	})

	return nil
}

func (t *fakeTransport) ice(s webrtc.ICEConnectionState) {
	t.events <- peer.Event{Type: peer.EventICEConnectionState, ICEState: s}
}

func (t *fakeTransport) conn(s webrtc.PeerConnectionState) {
	t.events <- peer.Event{Type: peer.EventPeerConnectionState, PeerState: s}
}

type countingSource struct {
	left int
}

func (s *countingSource) Next() (media.Sample, error) {
	if s.left == 0 {
		return media.Sample{}, bitstream.ErrEndOfStream
	}

	s.left--

	return media.Sample{Data: []byte{0x01}, Duration: time.Millisecond}, nil
}

type countingTrack struct {
	writes atomic.Int32
	// early is set by a write made while started is still false.
	started *atomic.Bool
	early   atomic.Bool
}

func (t *countingTrack) WriteSample(media.Sample) error {
	if t.started != nil && !t.started.Load() {
		t.early.Store(true)
	}

	t.writes.Add(1)

	return nil
}

func runController(ctx context.Context, c *Controller) <-chan Outcome {
	result := make(chan Outcome, 1)

	go func() {
		outcome, _ := c.Run(ctx)
		result <- outcome
	}()

	return result
}

func TestControllerStartsOnFirstConnected(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(transport)

	ctx, cancel := context.WithCancel(context.Background())
	result := runController(ctx, c)

	transport.ice(webrtc.ICEConnectionStateChecking)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, c.Start().Fired())

	transport.ice(webrtc.ICEConnectionStateConnected)
	require.Eventually(t, c.Start().Fired, time.Second, time.Millisecond)

	// A reconnection does not release anything again.
	transport.ice(webrtc.ICEConnectionStateDisconnected)
	transport.ice(webrtc.ICEConnectionStateConnected)
	assert.False(t, c.Start().Fire())

	cancel()

	outcome := <-result
	assert.True(t, outcome.Interrupted)
	assert.Equal(t, int32(1), transport.closed.Load())
}

func TestControllerPeerFailure(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(transport)

	result := runController(context.Background(), c)

	transport.conn(webrtc.PeerConnectionStateConnected)
	transport.conn(webrtc.PeerConnectionStateFailed)

	select {
	case outcome := <-result:
		assert.False(t, outcome.Interrupted)
		assert.Equal(t, SourcePeer, outcome.Source)
	case <-time.After(time.Second):
		t.Fatal("controller did not complete")
	}

	assert.Equal(t, int32(1), transport.closed.Load())
	assert.False(t, c.Start().Fired())
}

func TestControllerConcurrentCompletion(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(transport)

	var wg sync.WaitGroup
	for _, src := range []string{"video", "audio"} {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()

			c.Done().Fire(src)
		}(src)
	}
	wg.Wait()

	outcome, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, []string{"video", "audio"}, outcome.Source)
	assert.Equal(t, int32(1), transport.closed.Load())

	select {
	case src := <-c.Done().Done():
		t.Fatalf("second completion observed: %s", src)
	default:
	}
}

// Video runs out first; the session closes while audio is still streaming.
func TestControllerClosesWhenVideoEnds(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(transport)

	videoTrack := &countingTrack{}
	audioTrack := &countingTrack{}

	video := pacer.NewPacer(pacer.PacerConfig{Name: "video", Interval: time.Millisecond}, &countingSource{left: 3}, videoTrack)
	audio := pacer.NewPacer(pacer.PacerConfig{Name: "audio", Interval: time.Hour}, &countingSource{left: 1000}, audioTrack)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range []*pacer.Pacer{video, audio} {
		wg.Add(1)
		go func(p *pacer.Pacer) {
			defer wg.Done()

			_ = p.Run(ctx, c.Start(), c.Done())
		}(p)
	}

	result := runController(ctx, c)

	transport.ice(webrtc.ICEConnectionStateConnected)

	select {
	case outcome := <-result:
		assert.Equal(t, "video", outcome.Source)
	case <-time.After(time.Second):
		t.Fatal("controller did not complete")
	}

	assert.Equal(t, int32(1), transport.closed.Load())
	assert.Equal(t, pacer.StateFinished, video.State())
	require.Eventually(t, func() bool { return audio.State() == pacer.StateStreaming }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), videoTrack.writes.Load())

	cancel()
	wg.Wait()

	assert.Equal(t, pacer.StateStopped, audio.State())
}

// Cancellation before "connected": nothing is written and teardown does not
// wait for the pacers.
func TestControllerInterruptedBeforeConnected(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(transport)

	var started atomic.Bool
	track := &countingTrack{started: &started}

	p := pacer.NewPacer(pacer.PacerConfig{Name: "video", Interval: time.Millisecond}, &countingSource{left: 10}, track)

	go func() {
		_ = p.Run(context.Background(), c.Start(), c.Done())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	result := runController(ctx, c)

	transport.ice(webrtc.ICEConnectionStateChecking)
	cancel()

	select {
	case outcome := <-result:
		assert.True(t, outcome.Interrupted)
	case <-time.After(time.Second):
		t.Fatal("teardown waited on a pacer")
	}

	assert.Equal(t, int32(1), transport.closed.Load())
	assert.False(t, c.Start().Fired())
	assert.Zero(t, track.writes.Load())
	assert.Equal(t, pacer.StateWaitingForStart, p.State())
}

// No write ever precedes the first "connected" event, whatever the interleaving.
func TestControllerNoWriteBeforeConnected(t *testing.T) {
	for i := 0; i < 20; i++ {
		transport := newFakeTransport()
		c := NewController(transport)

		var started atomic.Bool
		videoTrack := &countingTrack{started: &started}
		audioTrack := &countingTrack{started: &started}

		ctx, cancel := context.WithCancel(context.Background())

		var wg sync.WaitGroup
		for _, p := range []*pacer.Pacer{
			pacer.NewPacer(pacer.PacerConfig{Name: "video", Interval: time.Millisecond}, &countingSource{left: 2}, videoTrack),
			pacer.NewPacer(pacer.PacerConfig{Name: "audio", Interval: time.Millisecond}, &countingSource{left: 2}, audioTrack),
		} {
			wg.Add(1)
			go func(p *pacer.Pacer) {
				defer wg.Done()

				_ = p.Run(ctx, c.Start(), c.Done())
			}(p)
		}

		result := runController(ctx, c)

		transport.ice(webrtc.ICEConnectionStateChecking)
		started.Store(true)
		transport.ice(webrtc.ICEConnectionStateConnected)

		<-result
		cancel()
		wg.Wait()

		assert.False(t, videoTrack.early.Load())
		assert.False(t, audioTrack.early.Load())
		assert.NotZero(t, videoTrack.writes.Load()+audioTrack.writes.Load())
	}
}
