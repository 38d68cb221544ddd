package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserIDs(t *testing.T) {
	tests := []struct {
		raw     string
		want    []int64
		wantErr bool
	}{
		{raw: "1", want: []int64{1}},
		{raw: "1, 2,3,", want: []int64{1, 2, 3}},
		{raw: "", want: nil},
		{raw: "1,x", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseUserIDs(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireUsers(t *testing.T) {
	assert.Error(t, requireUsers("", false))
	assert.NoError(t, requireUsers("1", false))
	assert.NoError(t, requireUsers("", true))
}

func TestCommandTree(t *testing.T) {
	dup := duplicatesCmd()
	var names []string
	for _, c := range dup.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"detect", "merge"}, names)

	refresh := refreshCmd()
	assert.NotNil(t, refresh.Flags().Lookup("transactions"))
	assert.NotNil(t, refresh.Flags().Lookup("workers"))
}
