package listener

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findash/internal/domain/duplicates"
)

type MockResolver struct {
	mu    sync.Mutex
	calls []ConnectionNotification
}

func (m *MockResolver) ResolveInstitution(_ context.Context, userID int64, institutionID string) (*duplicates.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ConnectionNotification{UserID: userID, InstitutionID: institutionID})
	return &duplicates.MergeResult{Removed: []string{"acc-2"}}, nil
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		want    ConnectionNotification
		wantErr bool
	}{
		{
			name:  "valid",
			extra: `{"connection_id":"c1","user_id":42,"institution_id":"ins_3"}`,
			want:  ConnectionNotification{ConnectionID: "c1", UserID: 42, InstitutionID: "ins_3"},
		},
		{name: "missing institution", extra: `{"connection_id":"c1","user_id":42}`, wantErr: true},
		{name: "missing user", extra: `{"institution_id":"ins_3"}`, wantErr: true},
		{name: "malformed", extra: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayload(tt.extra)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatch_ResolvesInstitution(t *testing.T) {
	resolver := &MockResolver{}
	l := NewConnectionListener("", resolver, nil)

	l.dispatch(`{"connection_id":"c1","user_id":42,"institution_id":"ins_3"}`)
	l.dispatch(`garbage`)
	l.inFlight.Wait()

	require.Len(t, resolver.calls, 1)
	assert.Equal(t, int64(42), resolver.calls[0].UserID)
	assert.Equal(t, "ins_3", resolver.calls[0].InstitutionID)
}
