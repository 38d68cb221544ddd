// Package backup periodically exports connection credentials, encrypted, to
// durable object storage so linked institutions survive a database loss.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"findash/internal/domain/connection"
)

// ErrNotConfigured is returned by Run when no bucket or uploader is set
var ErrNotConfigured = errors.New("backup is not configured")

// Uploader writes an object to a bucket
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

// Sealer encrypts credential material before it leaves the process
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Config controls when and where backups are written
type Config struct {
	Enabled  bool
	Bucket   string
	Prefix   string
	Interval time.Duration
}

// Record is one connection in a backup document
type Record struct {
	ConnectionID    string                  `json:"connectionId"`
	UserID          int64                   `json:"userId"`
	InstitutionID   string                  `json:"institutionId"`
	InstitutionName string                  `json:"institutionName"`
	ProviderKind    connection.ProviderKind `json:"providerKind"`
	Status          connection.Status       `json:"status"`
	SealedToken     string                  `json:"sealedToken"`
	CreatedAt       time.Time               `json:"createdAt"`
}

// Document is the uploaded backup body
type Document struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Connections []Record  `json:"connections"`
}

// Service exports connection credentials on an interval
type Service struct {
	connections connection.Repository
	uploader    Uploader
	sealer      Sealer
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	running bool
}

// NewService creates a backup service. A nil now means time.Now.
func NewService(connections connection.Repository, uploader Uploader, sealer Sealer, cfg Config, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		connections: connections,
		uploader:    uploader,
		sealer:      sealer,
		cfg:         cfg,
		logger:      logger,
		now:         now,
	}
}

// MaybeRun writes a backup when the interval since the last successful one
// has elapsed. Concurrent callers never start a second backup.
func (s *Service) MaybeRun(ctx context.Context) error {
	if !s.cfg.Enabled || s.uploader == nil {
		return nil
	}

	s.mu.Lock()
	now := s.now()
	if s.running || (!s.lastRun.IsZero() && now.Sub(s.lastRun) < s.cfg.Interval) {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	_, err := s.run(ctx, now)

	s.mu.Lock()
	s.running = false
	if err == nil {
		s.lastRun = now
	}
	s.mu.Unlock()
	return err
}

// Run writes a backup immediately and returns the object key.
func (s *Service) Run(ctx context.Context) (string, error) {
	if s.uploader == nil || s.cfg.Bucket == "" {
		return "", ErrNotConfigured
	}
	now := s.now()
	key, err := s.run(ctx, now)
	if err == nil {
		s.mu.Lock()
		s.lastRun = now
		s.mu.Unlock()
	}
	return key, err
}

// LastRun is the time of the last successful backup
func (s *Service) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Service) run(ctx context.Context, now time.Time) (string, error) {
	doc, err := s.collect(ctx, now)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	key := path.Join(s.cfg.Prefix, "connections-"+now.UTC().Format("20060102T150405Z")+".json")
	if err := s.uploader.Upload(ctx, s.cfg.Bucket, key, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.logger.Info("connection backup written",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("key", key),
		zap.Int("connections", len(doc.Connections)))
	return key, nil
}

func (s *Service) collect(ctx context.Context, now time.Time) (*Document, error) {
	userIDs, err := s.connections.ListUserIDsWithActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	doc := &Document{GeneratedAt: now.UTC(), Connections: []Record{}}
	for _, userID := range userIDs {
		conns, err := s.connections.ListByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list connections for user %d: %w", userID, err)
		}
		for _, c := range conns {
			if c.IsManual() || c.AccessToken == "" {
				continue
			}
			sealed, err := s.sealer.Encrypt(c.AccessToken)
			if err != nil {
				return nil, fmt.Errorf("failed to seal credential of connection %s: %w", c.ID, err)
			}
			doc.Connections = append(doc.Connections, Record{
				ConnectionID:    c.ID,
				UserID:          c.UserID,
				InstitutionID:   c.InstitutionID,
				InstitutionName: c.InstitutionName,
				ProviderKind:    c.ProviderKind,
				Status:          c.Status,
				SealedToken:     sealed,
				CreatedAt:       c.CreatedAt,
			})
		}
	}
	return doc, nil
}
