package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolModeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    PoolMode
		wantErr bool
	}{
		{name: "hotswap", mode: PoolModeHotSwap},
		{name: "reactive", mode: PoolModeReactive},
		{name: "mixed case", mode: "HotSwap"},
		{name: "empty", mode: "", wantErr: true},
		{name: "unknown", mode: "roundrobin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mode.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPoolSnapshotNormalizeSessions(t *testing.T) {
	snapshot := PoolSnapshot{Sessions: []SessionSnapshot{
		{ID: 4, Role: RoleStandby},
		{ID: 3, Role: RoleActive},
		{ID: 2, Role: RoleStandby},
	}}

	snapshot.NormalizeSessions()

	require.Len(t, snapshot.Sessions, 3)
	assert.Equal(t, SessionID(3), snapshot.Sessions[0].ID)
	assert.Equal(t, SessionID(2), snapshot.Sessions[1].ID)
	assert.Equal(t, SessionID(4), snapshot.Sessions[2].ID)
	assert.Equal(t, 1, snapshot.ActiveCount())

	active, ok := snapshot.Active()
	require.True(t, ok)
	assert.Equal(t, SessionID(3), active.ID)
}

func TestPoolSnapshotNormalizeNil(t *testing.T) {
	var snapshot *PoolSnapshot
	snapshot.NormalizeSessions()
}
