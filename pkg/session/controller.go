package session

import (
	"context"

	"webrtc-streamer/pkg/log"
	"webrtc-streamer/pkg/peer"
	xsync "webrtc-streamer/pkg/sync"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

// SourcePeer is the completion source used when the peer connection fails.
const SourcePeer = "peer"

type Transport interface {
	Events() <-chan peer.Event
	Close() error
}

type Outcome struct {
	// Interrupted is set when the session ended because ctx was done.
	Interrupted bool
	// Source names whoever fired the completion first. Empty when Interrupted.
	Source string
}

// Controller drives one streaming session. It turns the transport's state
// events into the start gate (first ICE "connected") and the completion
// notification (peer connection "failed"), waits for completion or
// cancellation, and closes the transport.
type Controller struct {
	transport Transport

	start *xsync.Barrier
	done  *xsync.Completion
}

func NewController(transport Transport) *Controller {
	return &Controller{
		transport: transport,
		start:     xsync.NewBarrier(),
		done:      xsync.NewCompletion(),
	}
}

// Start opens on the first ICE "connected" transition.
func (c *Controller) Start() *xsync.Barrier {
	return c.start
}

// Done is shared by the producers and the peer connection observer.
func (c *Controller) Done() *xsync.Completion {
	return c.done
}

// Run observes the transport until the session completes or ctx is done, then
// closes the transport and waits for the close to finish.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	observeCtx, stopObserving := context.WithCancel(ctx)
	defer stopObserving()

	observed := make(chan struct{})

	go func() {
		defer close(observed)

		c.observe(observeCtx)
	}()

	var outcome Outcome

	select {
	case source := <-c.done.Done():
		outcome.Source = source
		log.Infof("Received done signal from %s", source)
	case <-ctx.Done():
		outcome.Interrupted = true
		log.Info("Interrupted, closing session")
	}

	err := c.transport.Close()

	stopObserving()
	<-observed

	return outcome, errors.Wrap(err, "close transport")
}

func (c *Controller) observe(ctx context.Context) {
	events := c.transport.Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}

			c.handle(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) handle(ev peer.Event) {
	switch ev.Type {
	case peer.EventICEConnectionState:
		if ev.ICEState == webrtc.ICEConnectionStateConnected && c.start.Fire() {
			log.Info("Connected, starting playback")
		}
	case peer.EventPeerConnectionState:
		if ev.PeerState == webrtc.PeerConnectionStateFailed {
			log.Warn("Peer connection has gone to failed, exiting")
			c.done.Fire(SourcePeer)
		}
	}
}
