package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	vnc "github.com/unistack-org/go-rfb"

	"go2tv.app/gifcast/internal/logging"
)

const (
	vncSourceRef           = "vnc"
	defaultVNCDialTimeout  = 5 * time.Second
	defaultVNCUpdatePeriod = time.Second / CaptureFrameRate
)

// VNCOptions configures the VNC backend.
type VNCOptions struct {
	// Address is host:port of the VNC server.
	Address     string
	FFmpegPath  string
	StopGrace   time.Duration
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// VNCProvider records the framebuffer of a VNC server. Raw updates are
// composed into a BGRA frame and piped into the same WebM encoder the
// desktop backend uses.
type VNCProvider struct {
	opts VNCOptions
	log  *slog.Logger
}

func NewVNCProvider(opts *VNCOptions) *VNCProvider {
	var o VNCOptions
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.FFmpegPath) == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultVNCDialTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	return &VNCProvider{opts: o, log: logging.OrDiscard(o.Logger)}
}

// Sources returns the single screen a VNC server exposes.
func (p *VNCProvider) Sources(context.Context) ([]Source, error) {
	if strings.TrimSpace(p.opts.Address) == "" {
		return nil, fmt.Errorf("%w: VNC address is required", ErrInvalidOptions)
	}
	return []Source{{ID: sourceID(KindScreen, vncSourceRef), Name: "VNC Screen", Kind: KindScreen}}, nil
}

func (p *VNCProvider) Acquire(ctx context.Context, sourceID string) (Stream, error) {
	kind, ref, err := parseSourceID(sourceID)
	if err == nil && (kind != KindScreen || ref != vncSourceRef) {
		err = fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamAcquisition, err)
	}
	if strings.TrimSpace(p.opts.Address) == "" {
		return nil, fmt.Errorf("%w: %w: VNC address is required", ErrStreamAcquisition, ErrInvalidOptions)
	}

	dialer := net.Dialer{Timeout: p.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrStreamAcquisition, p.opts.Address, err)
	}

	log := p.log.With("backend", "vnc", "address", p.opts.Address)
	sess, err := connectVNC(ctx, conn, log)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrStreamAcquisition, err)
	}

	pr, pw := io.Pipe()
	sess.pw = pw
	sess.frames = newFrameQueue("vnc", pw, defaultFrameQueue, log)
	go sess.run(defaultVNCUpdatePeriod)

	s, err := startEncoder(ctx, encoderOptions{
		ffmpegPath: p.opts.FFmpegPath,
		inputArgs: []string{
			"-use_wallclock_as_timestamps", "1",
			"-f", "rawvideo",
			"-pix_fmt", "bgra",
			"-video_size", fmt.Sprintf("%dx%d", sess.fb.width, sess.fb.height),
			"-i", "pipe:0",
		},
		stdin:     pr,
		stopInput: sess.stopFrames,
		release:   sess.close,
		stopGrace: p.opts.StopGrace,
		log:       log,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

type vncSession struct {
	conn     net.Conn
	cc       *vnc.ClientConn
	serverCh chan vnc.ServerMessage
	clientCh chan vnc.ClientMessage
	errorCh  chan error
	fb       *framebuffer
	log      *slog.Logger

	frames *frameQueue
	pw     *io.PipeWriter

	stop      chan struct{}
	stopOnce  sync.Once
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func connectVNC(ctx context.Context, conn net.Conn, log *slog.Logger) (*vncSession, error) {
	s := &vncSession{
		conn:     conn,
		serverCh: make(chan vnc.ServerMessage, 1),
		clientCh: make(chan vnc.ClientMessage, 1),
		errorCh:  make(chan error, 1),
		log:      log,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	cfg := &vnc.ClientConfig{
		SecurityHandlers: []vnc.SecurityHandler{&vnc.ClientAuthNone{}},
		PixelFormat:      vnc.PixelFormat32bit,
		ClientMessageCh:  s.clientCh,
		ServerMessageCh:  s.serverCh,
		Messages:         vnc.DefaultServerMessages,
		Encodings:        []vnc.Encoding{&vnc.RawEncoding{}},
		ErrorCh:          s.errorCh,
		Handlers: []vnc.Handler{
			&vnc.DefaultClientVersionHandler{},
			&vnc.DefaultClientSecurityHandler{},
			&vnc.DefaultClientClientInitHandler{},
			&vnc.DefaultClientServerInitHandler{},
		},
	}

	cc, err := vnc.Connect(ctx, conn, cfg)
	if err != nil {
		return nil, fmt.Errorf("VNC connection negotiation failed: %w", err)
	}
	if cc.Width() == 0 || cc.Height() == 0 {
		_ = cc.Close()
		return nil, errors.New("VNC server reported an empty framebuffer")
	}
	s.cc = cc
	s.fb = newFramebuffer(int(cc.Width()), int(cc.Height()))

	go func() {
		if err := (&vnc.DefaultClientMessageHandler{}).Handle(cc); err != nil {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()
	return s, nil
}

func (s *vncSession) request(incremental bool) bool {
	var inc uint8
	if incremental {
		inc = 1
	}
	req := &vnc.FramebufferUpdateRequest{
		Inc:    inc,
		Width:  uint16(s.fb.width),
		Height: uint16(s.fb.height),
	}
	select {
	case s.clientCh <- req:
		return true
	case <-s.stop:
		return false
	}
}

// run requests updates until stopped or the server goes away. Closing the
// frame pipe on exit lets ffmpeg finish the container; frames still queued
// at that point are dropped.
func (s *vncSession) run(period time.Duration) {
	defer close(s.loopDone)
	defer func() {
		_ = s.pw.Close()
		s.frames.Close()
	}()

	if !s.request(false) {
		return
	}
	for {
		select {
		case <-s.stop:
			return
		case err := <-s.errorCh:
			if errors.Is(err, io.EOF) {
				s.log.Debug("vnc stream ended")
			} else {
				s.log.Warn("vnc stream failed", "err", err)
			}
			return
		case msg := <-s.serverCh:
			update, ok := msg.(*vnc.FramebufferUpdate)
			if !ok {
				continue
			}
			s.fb.apply(update.Rects)
			s.frames.Enqueue(s.fb.snapshot())

			select {
			case <-time.After(period):
			case <-s.stop:
				return
			}
			if !s.request(true) {
				return
			}
		}
	}
}

func (s *vncSession) stopFrames() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.loopDone
	return nil
}

func (s *vncSession) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.cc.Close(), s.conn.Close())
		if errors.Is(s.closeErr, net.ErrClosed) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// framebuffer is the client-side copy of the remote screen in BGRA order.
type framebuffer struct {
	width, height int
	pix           []byte
}

func newFramebuffer(width, height int) *framebuffer {
	pix := make([]byte, width*height*4)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
	return &framebuffer{width: width, height: height, pix: pix}
}

// apply copies raw-encoded rectangles into the framebuffer. Rectangles in
// other encodings and pixels outside the screen are ignored.
func (fb *framebuffer) apply(rects []*vnc.Rectangle) {
	for _, rect := range rects {
		raw, ok := rect.Enc.(*vnc.RawEncoding)
		if !ok {
			continue
		}
		w, h := int(rect.Width), int(rect.Height)
		for y := 0; y < h; y++ {
			fy := int(rect.Y) + y
			if fy >= fb.height {
				break
			}
			for x := 0; x < w; x++ {
				fx := int(rect.X) + x
				i := y*w + x
				if fx >= fb.width || i >= len(raw.Colors) {
					break
				}
				c := raw.Colors[i]
				off := (fy*fb.width + fx) * 4
				fb.pix[off] = uint8(c.B)
				fb.pix[off+1] = uint8(c.G)
				fb.pix[off+2] = uint8(c.R)
				fb.pix[off+3] = 0xff
			}
		}
	}
}

func (fb *framebuffer) snapshot() []byte {
	out := make([]byte, len(fb.pix))
	copy(out, fb.pix)
	return out
}
