package signal

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"webrtc-streamer/pkg/log"

	"github.com/pkg/errors"
)

const (
	DefaultPath = "/sdp"

	maxBodySize     = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// HTTP is the signaling bridge. It relays the body of a POST to Path to the
// single consumer installed with Subscribe; every other request gets 404.
//
// The consumer queue holds one offer. A second POST waits until the first
// one is taken, or until the client or the listener goes away. Installing a
// new consumer replaces the previous one.
type HTTP struct {
	cfg HTTPConfig

	out Output

	consumer   chan string
	consumerMx sync.Mutex

	addr   net.Addr
	addrMx sync.Mutex
}

type HTTPConfig struct {
	Port uint16
	Path string
}

// NewHTTP returns a bridge with a consumer already installed, so that offers
// posted as soon as the listener is up are not lost.
func NewHTTP(cfg HTTPConfig, out Output) *HTTP {
	if len(cfg.Path) == 0 {
		cfg.Path = DefaultPath
	}

	s := &HTTP{
		cfg: cfg,
		out: out,
	}

	s.Subscribe()

	return s
}

// Subscribe installs a fresh consumer and returns it.
func (s *HTTP) Subscribe() <-chan string {
	s.consumerMx.Lock()
	defer s.consumerMx.Unlock()

	s.consumer = make(chan string, 1)

	return s.consumer
}

func (s *HTTP) current() chan string {
	s.consumerMx.Lock()
	defer s.consumerMx.Unlock()

	return s.consumer
}

func (s *HTTP) ReadOffer(ctx context.Context) (string, error) {
	select {
	case offer := <-s.current():
		return offer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *HTTP) WriteAnswer(answer string) error {
	return s.out.WriteAnswer(answer)
}

func (s *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != s.cfg.Path {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		log.Warnf("signaling request from %s rejected: %s", r.RemoteAddr, err)
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	select {
	case s.current() <- body:
	case <-r.Context().Done():
		log.Warnf("signaling request from %s abandoned before the offer was taken", r.RemoteAddr)

		return
	}

	log.Infof("offer received from %s (%d bytes)", r.RemoteAddr, len(body))
	w.WriteHeader(http.StatusOK)
}

func (s *HTTP) readBody(w http.ResponseWriter, r *http.Request) (string, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return "", errors.Wrapf(ErrBadRequestBody, "read: %s", err)
	}

	if !utf8.Valid(b) {
		return "", ErrBadRequestBody
	}

	return string(b), nil
}

// Listen serves on all interfaces until ctx is done.
func (s *HTTP) Listen(ctx context.Context) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.Wrap(err, "signaling listener")
	}

	s.addrMx.Lock()
	s.addr = l.Addr()
	s.addrMx.Unlock()

	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	log.Infof("signaling listener on %s%s", l.Addr(), s.cfg.Path)

	errChan := make(chan error, 1)

	go func() {
		errChan <- server.Serve(l)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return errors.Wrap(err, "signaling listener")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err)
	}

	return nil
}

// Addr returns the bound address once Listen is serving, nil before.
func (s *HTTP) Addr() net.Addr {
	s.addrMx.Lock()
	defer s.addrMx.Unlock()

	return s.addr
}
