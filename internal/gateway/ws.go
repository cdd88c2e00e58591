package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "parley/contracts/interview/v1"
	"parley/internal/credential"
	"parley/internal/interview"
	"parley/internal/metrics"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "parley.interview.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsDefaultHelloGrace   = 10 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Malformed-frame budget per connection. State-machine violations are
	// budgeted separately by the session.
	wsMaxDecodeErrors = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for live interview sessions.
//
// It enforces origin policy, subprotocol selection, the hello-first
// handshake, rate limits and heartbeats, and routes validated client
// messages to the session registry.
type WSGateway struct {
	log      *slog.Logger
	creds    credential.Manager
	registry *interview.Registry

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	helloGrace      time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, creds credential.Manager, registry *interview.Registry) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if creds == nil || registry == nil {
		return nil, errors.New("gateway: credential manager and registry are required")
	}

	g := &WSGateway{log: log, creds: creds, registry: registry}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PARLEY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PARLEY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PARLEY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PARLEY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PARLEY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.helloGrace = envDurationWS("PARLEY_WS_HELLO_GRACE", wsDefaultHelloGrace)

	g.sendQueueSize = envIntWS("PARLEY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PARLEY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PARLEY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PARLEY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PARLEY_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the interview loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID := NewRandomHex(10)
	client := NewClient(connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The handshake: the first frame must be a valid hello carrying a
	// verifiable credential, within the grace window.
	sess, err := g.handshake(ctx, conn, client)
	if err != nil {
		g.log.Info("ws.handshake.fail", "conn_id", connID, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	sessionID := sess.ID()

	// shutdown is idempotent. It does NOT close client.Send.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.Detach(sessionID, client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				if reason := client.EvictReason(); reason != "" {
					shutdown(websocket.StatusPolicyViolation, reason)
				}
				return
			case ev := <-client.Send:
				if err := g.writeEvent(ctx, conn, ev); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	decodeErrors := 0

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, msg, err := readMessage(readCtx, conn)
		readCancel()

		if err != nil {
			var decErr *v1.DecodeError
			switch {
			case errors.As(err, &decErr):
				decodeErrors++
				g.trySend(client, v1.ErrorPayload{Code: v1.CodeProtocolViolation, Message: decErr.Message})
				if decodeErrors >= wsMaxDecodeErrors {
					shutdown(websocket.StatusPolicyViolation, "too many malformed frames")
					break readLoop
				}
				continue readLoop
			default:
				switch classifyReadErr(err) {
				case readErrClose:
					shutdown(websocket.StatusNormalClosure, "peer closed")
				case readErrCtxDone:
					shutdown(websocket.StatusNormalClosure, "context done")
				case readErrConnClosed:
					shutdown(websocket.StatusAbnormalClosure, "conn closed")
				default:
					g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "read failed")
				}
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySend(client, v1.ErrorPayload{Code: v1.CodeRateLimited, Message: "too many messages"})
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		metrics.FramesIn.WithLabelValues(env.Type).Inc()

		if err := g.dispatch(ctx, sess, client, msg, now); err != nil {
			switch {
			case errors.Is(err, interview.ErrSessionTerminal):
				g.trySend(client, v1.ErrorPayload{Code: v1.CodeSessionTerminal, Message: "session is finished"})
				shutdown(websocket.StatusNormalClosure, "session terminal")
				break readLoop
			case errors.Is(err, interview.ErrViolationBudget):
				shutdown(websocket.StatusPolicyViolation, "violation budget exceeded")
				break readLoop
			default:
				g.log.Error("ws.dispatch.fail", "session_id", sessionID, "type", env.Type, "err", err)
				shutdown(websocket.StatusInternalError, "internal error")
				break readLoop
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// handshake reads and validates the hello frame, verifies the credential
// and attaches the connection to its session.
func (g *WSGateway) handshake(ctx context.Context, conn *websocket.Conn, client *Client) (*interview.Session, error) {
	readCtx, cancel := context.WithTimeout(ctx, g.helloGrace)
	env, msg, err := readMessage(readCtx, conn)
	cancel()
	if err != nil {
		g.writeError(ctx, conn, v1.CodeProtocolViolation, "hello required")
		return nil, fmt.Errorf("hello read: %w", err)
	}
	metrics.FramesIn.WithLabelValues(env.Type).Inc()

	hello, ok := msg.(v1.HelloPayload)
	if !ok {
		g.writeError(ctx, conn, v1.CodeProtocolViolation, "hello must be the first message")
		return nil, fmt.Errorf("first frame is %q, want hello", env.Type)
	}

	now := time.Now().UTC()
	claims, err := g.creds.Verify(hello.Credential, now)
	if err != nil {
		code := v1.CodeCredentialNotFound
		if errors.Is(err, credential.ErrExpired) {
			code = v1.CodeCredentialExpired
		}
		g.writeError(ctx, conn, code, "credential rejected")
		return nil, fmt.Errorf("credential verify: %w", err)
	}
	if claims.SessionID != hello.SessionID {
		g.writeError(ctx, conn, v1.CodeCredentialNotFound, "credential rejected")
		return nil, errors.New("credential session mismatch")
	}

	sess, err := g.registry.Attach(ctx, claims.SessionID, claims.Subject, client, now)
	if err != nil {
		switch {
		case errors.Is(err, interview.ErrSessionNotFound):
			g.writeError(ctx, conn, v1.CodeSessionNotFound, "no such session")
		case errors.Is(err, interview.ErrSessionTerminal):
			g.writeError(ctx, conn, v1.CodeSessionTerminal, "session is finished")
		default:
			g.writeError(ctx, conn, v1.CodeInternal, "internal error")
		}
		return nil, fmt.Errorf("attach: %w", err)
	}

	g.log.Info("ws.connected",
		"session_id", sess.ID(),
		"conn_id", client.ConnID,
		"client_version", hello.ClientVersion,
	)
	return sess, nil
}

// dispatch routes one decoded client message to the session.
func (g *WSGateway) dispatch(ctx context.Context, sess *interview.Session, client *Client, msg v1.ClientMessage, now time.Time) error {
	switch p := msg.(type) {
	case v1.HelloPayload:
		// A repeat hello on a live connection is a state violation.
		return sess.Connect(now)
	case v1.StartPayload:
		return sess.Start(ctx, now, p.SampleRateHz)
	case v1.AudioPayload:
		return sess.Audio(ctx, now, p.Chunk)
	case v1.EndQuestionPayload:
		return sess.EndQuestion(ctx, now)
	case v1.SubmitPayload:
		return sess.Submit(ctx, now)
	case v1.PingPayload:
		// Answered at the transport layer; the session never sees pings.
		g.trySend(client, v1.PongPayload{T: p.T})
		return nil
	default:
		return fmt.Errorf("unhandled message type %T", msg)
	}
}

// ---- send helpers ----

func (g *WSGateway) trySend(client *Client, ev v1.ServerEvent) {
	client.Emit(ev)
}

// writeError writes one error event directly, bypassing the client queue.
// Used before the writer goroutine exists (handshake failures).
func (g *WSGateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()

	data, err := v1.EncodeServer(v1.ErrorPayload{Code: code, Message: msg}, NewRandomHex(10), time.Now().UTC())
	if err != nil {
		return
	}
	_ = conn.Write(wctx, websocket.MessageText, data)
}

func (g *WSGateway) writeEvent(parent context.Context, conn *websocket.Conn, ev v1.ServerEvent) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()

	data, err := v1.EncodeServer(ev, NewRandomHex(10), time.Now().UTC())
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ---- message IO ----

func readMessage(ctx context.Context, conn *websocket.Conn) (v1.Envelope, v1.ClientMessage, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return v1.DecodeClient(data)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
