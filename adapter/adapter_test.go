package adapter

import "testing"

func sampleEvent() *RunCompletedEvent {
	return &RunCompletedEvent{
		Version:   EventVersion,
		EventType: EventTypeRunCompleted,
		RunID:     "run-001",
		Attempt:   1,
		Variant:   "standard",
		Month:     "2013-01",
		Outcome:   "success",
		Outputs:   map[string]string{"transcripts": "lichess_blitz_games_2013_01.pgn"},
		Timestamp: "2026-10-19T12:00:00Z",
		Kept:      12,
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			data, err := Encode(sampleEvent(), enc)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data, enc)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.RunID != "run-001" || got.Month != "2013-01" || got.Kept != 12 {
				t.Errorf("decoded = %+v", got)
			}
			if got.Outputs["transcripts"] != "lichess_blitz_games_2013_01.pgn" {
				t.Errorf("Outputs = %v", got.Outputs)
			}
		})
	}
}

func TestEncode_MsgpackIsNotJSON(t *testing.T) {
	data, err := Encode(sampleEvent(), EncodingMsgpack)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) > 0 && data[0] == '{' {
		t.Error("msgpack payload looks like JSON")
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingJSON, false},
		{"json", EncodingJSON, false},
		{"msgpack", EncodingMsgpack, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEncoding(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseEncoding(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if EncodingMsgpack.ContentType() != "application/msgpack" || EncodingJSON.ContentType() != "application/json" {
		t.Error("unexpected content types")
	}
}
