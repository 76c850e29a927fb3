package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
)

var ada = identity.Identity{UserID: "u1", Name: "Ada", Role: identity.RoleEditor}

func TestNewMessage_Envelope(t *testing.T) {
	at := time.UnixMilli(1709283600123)
	msg, err := NewMessage(TypeEdit, ada, at, EditData{ItemID: "X12", Changes: map[string]any{"qty": 4.0}})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "userId", "userName", "userRole", "timestamp", "data"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("envelope missing %q: %s", key, data)
		}
	}
	if string(raw["timestamp"]) != "1709283600123" {
		t.Errorf("timestamp = %s, want epoch ms", raw["timestamp"])
	}
	if string(raw["type"]) != `"edit"` {
		t.Errorf("type = %s, want \"edit\"", raw["type"])
	}
}

func TestNewMessage_PingOmitsData(t *testing.T) {
	msg, err := NewMessage(TypePing, ada, time.Now(), nil)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	data, _ := msg.Encode()
	if strings.Contains(string(data), `"data"`) {
		t.Errorf("ping frame carries data: %s", data)
	}
}

func TestNewMessage_NilPayloadKeepsData(t *testing.T) {
	for _, typ := range Types {
		t.Run(string(typ), func(t *testing.T) {
			msg, err := NewMessage(typ, ada, time.UnixMilli(1), nil)
			if err != nil {
				t.Fatalf("NewMessage: %v", err)
			}
			data, err := msg.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			var raw map[string]json.RawMessage
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, ok := raw["data"]
			if typ == TypePing {
				if ok {
					t.Errorf("ping frame carries data: %s", data)
				}
				return
			}
			if !ok {
				t.Fatalf("%s frame missing data: %s", typ, data)
			}
			if string(got) != "{}" {
				t.Errorf("data = %s, want {}", got)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	msg, _ := NewMessage(TypeCursor, ada, time.Now(), CursorData{X: 10, Y: 20.5})

	cur, err := Decode[CursorData](msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cur.X != 10 || cur.Y != 20.5 {
		t.Errorf("cursor = %+v, want {10 20.5}", cur)
	}

	empty := Message{Type: TypeSync}
	if _, err := Decode[SyncData](empty); err != nil {
		t.Errorf("Decode of missing data: %v", err)
	}

	bad := Message{Type: TypeCursor, Data: json.RawMessage(`{"x":"left"}`)}
	if _, err := Decode[CursorData](bad); err == nil {
		t.Error("Decode of mistyped payload: want error")
	}
}

func TestSelectionData_NullClears(t *testing.T) {
	var sel SelectionData
	if err := json.Unmarshal([]byte(`{"itemId":null}`), &sel); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sel.ItemID != nil {
		t.Errorf("ItemID = %v, want nil", *sel.ItemID)
	}
}

func TestTimestamp_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"epoch ms", `1709283600123`, time.UnixMilli(1709283600123)},
		{"epoch ms float", `1709283600123.0`, time.UnixMilli(1709283600123)},
		{"iso", `"2024-03-01T09:00:00.123Z"`, time.Date(2024, 3, 1, 9, 0, 0, 123000000, time.UTC)},
		{"iso offset", `"2024-03-01T10:00:00+01:00"`, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.in), &ts); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("got %v, want %v", ts.Time, tt.want)
			}
		})
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("unparseable string: want error")
	}
}

func TestTimestamp_MarshalZeroIsNull(t *testing.T) {
	data, err := json.Marshal(Timestamp{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("zero timestamp = %s, want null", data)
	}
}

func TestMessageType_Valid(t *testing.T) {
	for _, mt := range Types {
		if !mt.Valid() {
			t.Errorf("%s.Valid() = false", mt)
		}
	}
	if MessageType("teleport").Valid() {
		t.Error("unknown type reported valid")
	}
}

func TestItemLock_Expired(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := ItemLock{ItemID: "X12", ExpiresAt: At(now.Add(time.Minute))}
	if l.Expired(now) {
		t.Error("lock expired before its expiry")
	}
	if !l.Expired(now.Add(time.Minute)) {
		t.Error("lock not expired at its expiry")
	}
}

func TestMessage_WithSender(t *testing.T) {
	msg := Message{Type: TypeEdit, UserID: "spoofed", UserName: "Mallory"}
	got := msg.WithSender(ada)
	if got.Sender() != ada {
		t.Errorf("Sender() = %+v, want %+v", got.Sender(), ada)
	}
	if msg.UserID != "spoofed" {
		t.Error("WithSender mutated the receiver")
	}
}
