package buildinfo_test

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbyu/ump-sub000/internal/buildinfo"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dev", buildinfo.Version)
	assert.Equal(t, "unknown", buildinfo.Commit)
	assert.Equal(t, "unknown", buildinfo.Date)
}

func TestGetInfo(t *testing.T) {
	t.Parallel()

	info := buildinfo.GetInfo()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Date)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Commit)
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info buildinfo.Info
		want string
	}{
		{
			name: "dev build",
			info: buildinfo.Info{Version: "dev", Commit: "unknown", Date: "unknown"},
			want: "stepflow vdev (commit: unknown, built: unknown)",
		},
		{
			name: "release",
			info: buildinfo.Info{Version: "1.2.0", Commit: "a1b2c3d", Date: "2026-02-17T10:00:00Z"},
			want: "stepflow v1.2.0 (commit: a1b2c3d, built: 2026-02-17T10:00:00Z)",
		},
		{
			name: "git describe dirty",
			info: buildinfo.Info{Version: "1.2.0-3-gabcdef0-dirty", Commit: "abcdef0", Date: "2026-03-01"},
			want: "stepflow v1.2.0-3-gabcdef0-dirty (commit: abcdef0, built: 2026-03-01)",
		},
		{
			name: "go version is not part of the string",
			info: buildinfo.Info{Version: "1", Commit: "c", Date: "d", GoVersion: "go1.24.2"},
			want: "stepflow v1 (commit: c, built: d)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestInfoJSONFieldNames(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(buildinfo.Info{Version: "1.0.0", Commit: "abc", Date: "today", GoVersion: "go1.24.2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0.0","commit":"abc","date":"today","go_version":"go1.24.2"}`, string(data))
}
