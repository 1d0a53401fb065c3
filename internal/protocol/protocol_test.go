package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
)

func TestDecode(t *testing.T) {
	hello := "hello"

	tests := []struct {
		name    string
		raw     string
		want    Command
		wantErr bool
	}{
		{name: "get_latest", raw: `{"action":"get_latest","who":"a"}`, want: GetLatest{Who: "a"}},
		{name: "send_message", raw: `{"action":"send_message","who":"b","text":"hi"}`, want: SendMessage{Who: "b", Text: "hi"}},
		{name: "health_check", raw: `{"action":"health_check"}`, want: HealthCheck{}},
		{name: "emergency_backup", raw: `{"action":"emergency_backup"}`, want: EmergencyBackup{}},
		{name: "heartbeat", raw: `{"action":"heartbeat","extra":1}`, want: Heartbeat{}},
		{name: "latest reply", raw: `{"action":"latest","who":"a","text":"hello"}`, want: Latest{Who: "a", Text: &hello}},
		{name: "latest null text", raw: `{"action":"latest","who":"a","text":null,"error":"tab missing"}`, want: Latest{Who: "a", Error: "tab missing"}},
		{name: "sent reply", raw: `{"action":"sent","who":"b","ok":true}`, want: Sent{Who: "b", OK: true}},
		{name: "unknown action", raw: `{"action":"dance"}`, want: Unknown{Name: "dance"}},
		{name: "missing action", raw: `{"who":"a"}`, want: Unknown{Name: ""}},
		{name: "not json", raw: `{nope`, wantErr: true},
		{name: "not an object", raw: `[1,2]`, wantErr: true},
		{name: "wrong field type", raw: `{"action":"send_message","who":"a","text":5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformed), "want ErrMalformed, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEmergencyStatus(t *testing.T) {
	raw := `{"action":"emergency_status","ai_status":{"a":{"status":"Error","name":"x"}},"tabs_found":{"a":false,"b":{"id":7}},"protocol":"ACTIVE"}`

	cmd, err := Decode([]byte(raw))
	require.NoError(t, err)

	es, ok := cmd.(EmergencyStatus)
	require.True(t, ok)
	assert.Equal(t, "Error", es.AIStatus["a"].Status)
	assert.False(t, Truthy(es.TabsFound["a"]))
	assert.True(t, Truthy(es.TabsFound["b"]))
}

func TestIsReply(t *testing.T) {
	assert.True(t, IsReply(Latest{}))
	assert.True(t, IsReply(Sent{}))
	assert.False(t, IsReply(GetLatest{}))
	assert.False(t, IsReply(Unknown{Name: "latest_x"}))
}

func TestTruthy(t *testing.T) {
	for _, falsy := range []string{"false", "null", " null ", "0", `""`, "{}", "[]", ""} {
		assert.False(t, Truthy(json.RawMessage(falsy)), falsy)
	}
	for _, truthy := range []string{"true", "1", `"tab"`, `{"id":1}`} {
		assert.True(t, Truthy(json.RawMessage(truthy)), truthy)
	}
}

func TestOutboundShapes(t *testing.T) {
	d := domain.Descriptor{
		ID:              "a",
		Name:            "Alpha",
		Location:        "alpha.example/chat",
		ScrapeSelectors: []string{"div.x", "div.y"},
		InputSelectors:  []string{"textarea"},
	}

	raw, err := json.Marshal(NewInjectRequest(d, "hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"send_message","location":"alpha.example/chat","selector":"textarea","text":"hello","who":"a"}`, string(raw))

	raw, err = json.Marshal(NewScrapeRequest(d))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"get_latest","location":"alpha.example/chat","selector":"div.x, div.y","who":"a"}`, string(raw))

	raw, err = json.Marshal(NewLatestFailure("z", "Unknown AI: z"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"latest","text":null,"who":"z","error":"Unknown AI: z"}`, string(raw))

	raw, err = json.Marshal(NewEmergencyRestore([]domain.Descriptor{d}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"emergency_restore","missing_ais":["Alpha"],"restore_urls":{"Alpha":"alpha.example/chat"}}`, string(raw))

	raw, err = json.Marshal(NewError("send_message", errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"error","message":"boom","command":"send_message"}`, string(raw))
}
