package gateway

import (
	"encoding/json"
	"testing"
)

func TestRedisRelay_Decode(t *testing.T) {
	r := NewRedisRelay(nil, "collab:room:", "inst-a", nil)
	encode := func(m RelayMessage) string {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		return string(b)
	}
	testCases := []struct {
		name    string
		payload string
		wantOK  bool
	}{
		{"other instance", encode(RelayMessage{Origin: "inst-b", SessionID: "s1", Kind: relayBroadcast, Payload: json.RawMessage(`{"type":"x"}`)}), true},
		{"own message", encode(RelayMessage{Origin: "inst-a", SessionID: "s1", Kind: relayBroadcast, Payload: json.RawMessage(`{}`)}), false},
		{"no session", encode(RelayMessage{Origin: "inst-b", Kind: relayBroadcast, Payload: json.RawMessage(`{}`)}), false},
		{"malformed", "{not json", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := r.decode(tc.payload)
			if ok != tc.wantOK {
				t.Fatalf("decode ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && (m.SessionID != "s1" || string(m.Payload) != `{"type":"x"}`) {
				t.Errorf("decoded = %+v", m)
			}
		})
	}
}

func TestRedisRelay_Channel(t *testing.T) {
	r := NewRedisRelay(nil, "collab:room:", "inst-a", nil)
	if got := r.Channel("s1"); got != "collab:room:s1" {
		t.Errorf("Channel = %q", got)
	}
}
