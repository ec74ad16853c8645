package voice

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/auth"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/config"
	"github.com/GeanToroDevFS/RealTimeVoiceBackend/internal/metrics"
)

// Server upgrades HTTP requests on the signaling endpoint and hands each
// accepted socket to the hub.
//
// Origin checks are the job of the surrounding HTTP middleware; by the time a
// request reaches the upgrader it has already been screened, so CheckOrigin
// accepts everything.
type Server struct {
	hub      *Hub
	log      *slog.Logger
	verifier auth.Verifier
	authMode auth.Mode
	limits   clientLimits
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, hub *Hub, log *slog.Logger) (*Server, error) {
	verifier, err := config.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		hub:      hub,
		log:      log,
		verifier: verifier,
		authMode: cfg.AuthMode,
		limits: clientLimits{
			AuthTimeout:       cfg.SignalingAuthTimeout,
			IdleTimeout:       cfg.SignalingWSIdleTimeout,
			PingInterval:      cfg.SignalingWSPingInterval,
			MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
			MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.hub.AtCapacity() {
		// The authoritative check happens at Register; this one lets us
		// answer with a plain 503 before paying for the upgrade.
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	authenticated := s.authMode == auth.ModeNone
	if !authenticated {
		cred, err := auth.CredentialFromQuery(s.authMode, r.URL.Query())
		switch {
		case err == nil:
			if _, verr := s.verifier.Verify(cred); verr != nil {
				s.hub.metrics.Inc(metrics.AuthFailure)
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			authenticated = true
		case errors.Is(err, auth.ErrMissingCredentials):
			// Fall through to the in-band auth message.
		default:
			s.hub.metrics.Inc(metrics.AuthFailure)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := ConnID(uuid.NewString())
	c := newClient(id, s.hub, conn, s.log, s.limits, s.verifier, s.authMode, authenticated)

	if err := s.hub.Register(id, c); err != nil {
		s.log.Warn("connection rejected", "conn", id, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	s.log.Info("connection accepted", "conn", id, "remote", r.RemoteAddr)
	if authenticated {
		c.Send(NewMessage(EventConnected, ConnectedPayload{SocketID: string(id)}))
	}

	c.run(r.Context())
}
