package listener

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"findash/internal/domain/duplicates"
)

const (
	channelName       = "connection_linked"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
	resolveTimeout    = 2 * time.Minute
)

var errInvalidPayload = errors.New("notification payload missing user or institution")

// ConnectionNotification is the payload sent by the connection_linked trigger
type ConnectionNotification struct {
	ConnectionID  string `json:"connection_id"`
	UserID        int64  `json:"user_id"`
	InstitutionID string `json:"institution_id"`
}

// Resolver merges duplicate accounts of an institution
type Resolver interface {
	ResolveInstitution(ctx context.Context, userID int64, institutionID string) (*duplicates.MergeResult, error)
}

// ConnectionListener resolves duplicate accounts whenever a connection is
// linked or re-linked.
type ConnectionListener struct {
	connStr    string
	resolver   Resolver
	logger     *zap.Logger
	shutdownCh chan struct{}
	done       chan struct{}
	inFlight   sync.WaitGroup
}

// NewConnectionListener creates a listener for connection_linked notifications
func NewConnectionListener(connStr string, resolver Resolver, logger *zap.Logger) *ConnectionListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionListener{
		connStr:    connStr,
		resolver:   resolver,
		logger:     logger.Named("listener"),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine
func (l *ConnectionListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.logger.Info("connection listener started", zap.String("channel", channelName))
}

// Stop shuts down the listener and waits for running resolutions
func (l *ConnectionListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.inFlight.Wait()
	l.logger.Info("connection listener stopped")
}

func (l *ConnectionListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.logger.Info("reconnecting notification listener")
		}
	}
}

func (l *ConnectionListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Info("notification channel connected")
		case pq.ListenerEventDisconnected:
			l.logger.Warn("notification channel disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			l.logger.Info("notification channel reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn("notification connection attempt failed", zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		l.logger.Error("failed to listen", zap.String("channel", channelName), zap.Error(err))
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				return
			}
			l.dispatch(n.Extra)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// dispatch parses the payload and resolves duplicates in the background.
// The resolution is detached from the listener's context so shutdown does
// not abort a merge halfway.
func (l *ConnectionListener) dispatch(extra string) {
	payload, err := parsePayload(extra)
	if err != nil {
		l.logger.Warn("ignoring notification", zap.String("payload", extra), zap.Error(err))
		return
	}

	l.inFlight.Add(1)
	go func() {
		defer l.inFlight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		l.resolve(ctx, payload)
	}()
}

func (l *ConnectionListener) resolve(ctx context.Context, payload ConnectionNotification) {
	logger := l.logger.With(
		zap.Int64("user_id", payload.UserID),
		zap.String("institution_id", payload.InstitutionID),
		zap.String("connection_id", payload.ConnectionID))

	result, err := l.resolver.ResolveInstitution(ctx, payload.UserID, payload.InstitutionID)
	if err != nil {
		logger.Error("duplicate resolution failed", zap.Error(err))
		return
	}
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		logger.Info("duplicate resolution after link",
			zap.Int("removed", len(result.Removed)),
			zap.Strings("disconnected", result.DisconnectedConnections),
			zap.Strings("errors", result.Errors))
	}
}

func parsePayload(extra string) (ConnectionNotification, error) {
	var payload ConnectionNotification
	if err := json.Unmarshal([]byte(extra), &payload); err != nil {
		return payload, err
	}
	if payload.UserID <= 0 || payload.InstitutionID == "" {
		return payload, errInvalidPayload
	}
	return payload, nil
}
