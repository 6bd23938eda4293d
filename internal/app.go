package internal

import (
	"context"
	"io"
	"math"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"webrtc-streamer/pkg/bitstream"
	"webrtc-streamer/pkg/log"
	"webrtc-streamer/pkg/pacer"
	"webrtc-streamer/pkg/peer"
	"webrtc-streamer/pkg/session"
	"webrtc-streamer/pkg/signal"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	signalModeStdin = "stdin"
	signalModeHTTP  = "http"

	envPrefix  = "STREAMER"
	configName = "streamer"
)

type App struct {
	sessionID string

	videoFile     string
	audioFile     string
	stunServers   []string
	signalMode    string
	port          uint16
	signalPath    string
	videoInterval time.Duration
	audioInterval time.Duration
	sampleRate    uint32
	logLevel      string

	iceDisconnectedTimeout time.Duration
	iceFailedTimeout       time.Duration
	iceKeepAlive           time.Duration

	stdin  io.Reader
	stdout io.Writer

	signal     peer.Signal
	httpSignal *signal.HTTP
	peer       *peer.WebRTC
	controller *session.Controller
	video      *pacer.Pacer
	audio      *pacer.Pacer
	videoSrc   *pacer.VideoSource
	files      []*os.File
}

func NewApp() *App {
	return &App{
		sessionID: uuid.New().String(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}
}

func (a *App) Setup(args []string) (err error) {
	if err := a.parseCmdline(args); err != nil {
		return err
	}

	log.SetupLogger(a.logLevel)

	if err := a.setupSignal(); err != nil {
		return err
	}

	a.peer, err = peer.NewWebRTC(peer.WebRTCConfig{
		STUN:                a.stunServers,
		StreamID:            a.sessionID,
		DisconnectedTimeout: a.iceDisconnectedTimeout,
		FailedTimeout:       a.iceFailedTimeout,
		KeepAliveInterval:   a.iceKeepAlive,
	}, a.signal)
	if err != nil {
		return errors.Wrap(err, "peer connection")
	}

	defer func() {
		if err == nil {
			return
		}

		if closeErr := a.peer.Close(); closeErr != nil {
			log.Error(closeErr)
		}

		a.closeFiles()
	}()

	a.controller = session.NewController(a.peer)

	if a.video, err = a.setupVideo(); err != nil {
		return err
	}

	if a.audio, err = a.setupAudio(); err != nil {
		return err
	}

	return nil
}

func (a *App) Run(ctx context.Context, cancel context.CancelFunc) error {
	log.Infof("Starting WebRTC streamer, Session ID: %s", a.sessionID)
	defer log.Info("Ending WebRTC streamer")

	defer a.closeFiles()

	a.listenOS(cancel)

	g, gctx := errgroup.WithContext(ctx)

	if a.httpSignal != nil {
		g.Go(func() error {
			return a.httpSignal.Listen(gctx)
		})
	}

	for _, p := range []*pacer.Pacer{a.video, a.audio} {
		p := p

		g.Go(func() error {
			return p.Run(gctx, a.controller.Start(), a.controller.Done())
		})
	}

	g.Go(func() error {
		return a.negotiate(gctx)
	})

	outcome, closeErr := a.controller.Run(gctx)
	if closeErr != nil {
		log.Error(closeErr)
	}

	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	for _, p := range []*pacer.Pacer{a.video, a.audio} {
		log.WithField("state", p.State()).
			WithField("samples", p.Samples()).
			Debugf("%s stream done", p.Name())
	}

	log.WithField("interrupted", outcome.Interrupted).
		WithField("source", outcome.Source).
		WithField("video_samples", a.video.Samples()).
		WithField("video_key_frames", a.videoSrc.KeyFrames()).
		WithField("audio_samples", a.audio.Samples()).
		Info("session closed")

	return closeErr
}

func (a *App) parseCmdline(args []string) error {
	flags := pflag.NewFlagSet("webrtc-streamer", pflag.ContinueOnError)

	// Media inputs.
	flags.StringP("video", "V", "stream_data/video_stream.h264", "H.264 Annex-B elementary stream to play")
	flags.StringP("audio", "A", "stream_data/audio_stream.ogg", "Ogg/Opus stream to play")
	flags.Duration("video-interval", 33*time.Millisecond, "Video tick period, also used as the duration of every video sample")
	flags.Duration("audio-interval", 20*time.Millisecond, "Audio tick period")
	flags.Uint32("sample-rate", pacer.DefaultSampleRate, "Ogg granule position rate used to compute audio sample durations")

	// Negotiation.
	flags.StringSliceP("stun", "S", []string{"stun.l.google.com:19302"}, "List of used STUN servers")
	flags.StringP("signal", "s", signalModeStdin, "Where the offer comes from: \"stdin\" (one base64 line) or \"http\" (POST to --path)")
	flags.Uint16P("port", "p", 8080, "Signaling listener port (--signal=http)")
	flags.String("path", signal.DefaultPath, "Signaling listener path (--signal=http)")
	flags.Duration("ice-disconnected-timeout", 5*time.Second, "Time without network activity before ICE reports disconnected")
	flags.Duration("ice-failed-timeout", 25*time.Second, "Time after disconnected before ICE reports failed")
	flags.Duration("ice-keepalive", 2*time.Second, "How often ICE keepalive traffic is sent")

	// Common options.
	flags.StringP("log-level", "l", "info", "Log level: trace, debug, info, warn, error")

	if err := flags.Parse(args); err != nil {
		return errors.Wrap(err, "command line")
	}

	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.webrtc-streamer")

	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "command line")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError

		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "config file")
		}
	}

	a.videoFile = v.GetString("video")
	a.audioFile = v.GetString("audio")
	a.videoInterval = v.GetDuration("video-interval")
	a.audioInterval = v.GetDuration("audio-interval")
	a.sampleRate = v.GetUint32("sample-rate")
	a.stunServers = v.GetStringSlice("stun")
	a.signalMode = v.GetString("signal")
	a.signalPath = v.GetString("path")
	a.iceDisconnectedTimeout = v.GetDuration("ice-disconnected-timeout")
	a.iceFailedTimeout = v.GetDuration("ice-failed-timeout")
	a.iceKeepAlive = v.GetDuration("ice-keepalive")
	a.logLevel = v.GetString("log-level")

	port := v.GetUint("port")
	if port > math.MaxUint16 {
		return errors.Errorf("port %d out of range", port)
	}

	a.port = uint16(port)

	if a.videoInterval <= 0 || a.audioInterval <= 0 {
		return errors.New("tick intervals must be positive")
	}

	if a.sampleRate == 0 {
		return errors.New("sample rate must be positive")
	}

	if a.iceDisconnectedTimeout <= 0 || a.iceFailedTimeout <= 0 || a.iceKeepAlive <= 0 {
		return errors.New("ICE timeouts must be positive")
	}

	return nil
}

func (a *App) setupSignal() error {
	out := &signal.Clipboard{
		Fallback: a.stdout,
	}

	switch a.signalMode {
	case signalModeStdin:
		a.signal = signal.NewConsole(a.stdin, out)
	case signalModeHTTP:
		a.httpSignal = signal.NewHTTP(signal.HTTPConfig{
			Port: a.port,
			Path: a.signalPath,
		}, out)
		a.signal = a.httpSignal
	default:
		return errors.Errorf("unknown signal mode %q", a.signalMode)
	}

	return nil
}

func (a *App) setupVideo() (*pacer.Pacer, error) {
	f, err := a.open(a.videoFile)
	if err != nil {
		return nil, errors.Wrap(err, "video file")
	}

	source := pacer.NewVideoSource(bitstream.NewNALReader(f), a.videoInterval)
	a.videoSrc = source

	return pacer.NewPacer(pacer.PacerConfig{
		Name:     "video",
		File:     a.videoFile,
		Interval: a.videoInterval,
	}, source, a.peer.VideoTrack()), nil
}

func (a *App) setupAudio() (*pacer.Pacer, error) {
	f, err := a.open(a.audioFile)
	if err != nil {
		return nil, errors.Wrap(err, "audio file")
	}

	reader, err := bitstream.NewOggReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "audio file")
	}

	header := reader.Header()
	log.Debugf("audio stream: %d channels, input sample rate %d Hz, pre-skip %d",
		header.Channels, header.SampleRate, header.PreSkip)

	source := pacer.NewAudioSource(reader, a.sampleRate)

	return pacer.NewPacer(pacer.PacerConfig{
		Name:     "audio",
		File:     a.audioFile,
		Interval: a.audioInterval,
	}, source, a.peer.AudioTrack()), nil
}

func (a *App) open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	a.files = append(a.files, f)

	return f, nil
}

func (a *App) closeFiles() {
	for _, f := range a.files {
		if err := f.Close(); err != nil {
			log.Error(err)
		}
	}
}

func (a *App) negotiate(ctx context.Context) error {
	if a.httpSignal != nil {
		log.Infof("Waiting for the base64 encoded offer on POST :%d%s", a.port, a.signalPath)
	} else {
		log.Info("Paste the base64 encoded offer and press enter")
	}

	if err := a.peer.Negotiate(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return errors.Wrap(err, "negotiation")
	}

	log.Info("Answer sent, waiting for the connection")

	return nil
}

func (a *App) listenOS(cancel context.CancelFunc) {
	sigchan := make(chan os.Signal, 1)
	ossignal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigchan
		cancel()
	}()
}
