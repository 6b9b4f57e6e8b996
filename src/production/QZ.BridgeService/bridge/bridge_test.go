package qzbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMacFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantMac string
		wantOK  bool
	}{
		{topic: "consoles/AA:BB:CC:DD/out", wantMac: "AA:BB:CC:DD", wantOK: true},
		{topic: "quiz/consoles/AA:BB/out", wantMac: "AA:BB", wantOK: true},
		{topic: "consoles/AA:BB/in", wantOK: false},
		{topic: "consoles//out", wantOK: false},
		{topic: "consoles/out", wantOK: false},
		{topic: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			mac, ok := macFromTopic(tt.topic)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantMac, mac)
		})
	}
}
