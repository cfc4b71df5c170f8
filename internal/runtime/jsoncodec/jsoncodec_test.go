package jsoncodec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Resource    string    `json:"resource"`
	Port        int       `json:"port"`
	ConnectedAt time.Time `json:"connected_at"`
	Secret      string    `json:"-"`
}

func TestMarshalHonoursTags(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := Marshal(report{Resource: "go_h_1_t1", Port: 5222, ConnectedAt: at, Secret: "pw"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resource":"go_h_1_t1","port":5222,"connected_at":"2024-05-01T12:00:00Z"}`, string(data))

	var out report
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, at, out.ConnectedAt)
	assert.Empty(t, out.Secret)
}

func TestMarshalSortsMapKeys(t *testing.T) {
	data, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(data))
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(map[string]string{"status": "ok"}, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "\n  \"status\": \"ok\"\n"), string(data))
}

func TestUnmarshalRejectsMalformedInput(t *testing.T) {
	var out report
	assert.Error(t, Unmarshal([]byte(`{"resource":`), &out))
}
