package dcc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOffer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Offer
	}{
		{
			name: "chat",
			in:   "CHAT chat 3232235777 5000",
			want: Offer{Type: "CHAT", IP: net.IPv4(192, 168, 1, 1).To4(), Port: 5000, Size: -1},
		},
		{
			name: "send with size",
			in:   "SEND notes.txt 2130706433 6000 10000",
			want: Offer{Type: "SEND", File: "notes.txt", IP: net.IPv4(127, 0, 0, 1).To4(), Port: 6000, Size: 10000},
		},
		{
			name: "send without size",
			in:   "SEND notes.txt 2130706433 6000",
			want: Offer{Type: "SEND", File: "notes.txt", IP: net.IPv4(127, 0, 0, 1).To4(), Port: 6000, Size: -1},
		},
		{
			name: "quoted file name",
			in:   `SEND "my holiday.jpg" 2130706433 6001 42`,
			want: Offer{Type: "SEND", File: "my holiday.jpg", IP: net.IPv4(127, 0, 0, 1).To4(), Port: 6001, Size: 42},
		},
		{
			name: "resume",
			in:   "RESUME notes.txt 6000 4096",
			want: Offer{Type: "RESUME", File: "notes.txt", Port: 6000, Size: -1, Position: 4096},
		},
		{
			name: "accept lowercase verb",
			in:   "accept notes.txt 6000 4096",
			want: Offer{Type: "ACCEPT", File: "notes.txt", Port: 6000, Size: -1, Position: 4096},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOffer(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.File, got.File)
			assert.Equal(t, tt.want.Port, got.Port)
			assert.Equal(t, tt.want.Size, got.Size)
			assert.Equal(t, tt.want.Position, got.Position)
			if tt.want.IP != nil {
				assert.True(t, tt.want.IP.Equal(got.IP), "ip = %v", got.IP)
			}
		})
	}
}

func TestParseOffer_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"CHAT chat 3232235777",
		"CHAT chat nothost 5000",
		"SEND f 2130706433 0",
		"SEND f 2130706433 70000",
		"SEND f 2130706433 6000 -5",
		"RESUME f 6000",
		"RESUME f 6000 abc",
		"XMIT f 2130706433 6000",
	} {
		_, err := ParseOffer(in)
		assert.Error(t, err, "ParseOffer(%q)", in)
	}
}

func TestOffer_String(t *testing.T) {
	ip := net.IPv4(127, 0, 0, 1)
	tests := []struct {
		offer Offer
		want  string
	}{
		{Offer{Type: "CHAT", IP: ip, Port: 5000, Size: -1}, "CHAT chat 2130706433 5000"},
		{Offer{Type: "SEND", File: "a.txt", IP: ip, Port: 5001, Size: 10}, "SEND a.txt 2130706433 5001 10"},
		{Offer{Type: "SEND", File: "a b.txt", IP: ip, Port: 5001, Size: -1}, `SEND "a b.txt" 2130706433 5001`},
		{Offer{Type: "RESUME", File: "a.txt", Port: 5001, Position: 4096}, "RESUME a.txt 5001 4096"},
		{Offer{Type: "ACCEPT", File: "a b.txt", Port: 5001, Position: 4096}, `ACCEPT "a b.txt" 5001 4096`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.offer.String())
	}
	assert.Equal(t, "DCC CHAT chat 2130706433 5000", tests[0].offer.Message())
}

func TestOffer_RoundTripQuoted(t *testing.T) {
	o := Offer{Type: "SEND", File: "two words.bin", IP: net.IPv4(10, 0, 0, 2), Port: 7000, Size: 99}
	got, err := ParseOffer(o.String())
	require.NoError(t, err)
	assert.Equal(t, o.File, got.File)
	assert.Equal(t, "10.0.0.2:7000", got.Addr())
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"notes.txt":          "notes.txt",
		"../../etc/passwd":   "passwd",
		`C:\Users\x\evil.sh`: "evil.sh",
		"..":                 "download",
		"/":                  "download",
		"":                   "download",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeName(in), "SafeName(%q)", in)
	}
}
