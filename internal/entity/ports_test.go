package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsules-dev/capsules/internal/errors"
)

func TestParsePortMapping(t *testing.T) {
	tests := []struct {
		input   string
		want    PortMapping
		wantErr bool
	}{
		{input: "2000:8080/tcp", want: PortMapping{2000, 8080, "tcp"}},
		{input: "2000:8080", want: PortMapping{2000, 8080, "tcp"}},
		{input: "2000:53/udp", want: PortMapping{2000, 53, "udp"}},
		{input: " 1024:1/UDP ", want: PortMapping{1024, 1, "udp"}},
		{input: "65535:65535/tcp", want: PortMapping{65535, 65535, "tcp"}},
		{input: "80:8080/tcp", wantErr: true},
		{input: "1023:8080", wantErr: true},
		{input: "2000:70000", wantErr: true},
		{input: "70000:80", wantErr: true},
		{input: "2000:0", wantErr: true},
		{input: "2000:8080/http", wantErr: true},
		{input: "2000:8080/", wantErr: true},
		{input: "2000:8080/tcp/udp", wantErr: true},
		{input: "2000", wantErr: true},
		{input: ":8080", wantErr: true},
		{input: "2000:", wantErr: true},
		{input: "2000:/tcp", wantErr: true},
		{input: "a:8080", wantErr: true},
		{input: "+2000:8080", wantErr: true},
		{input: "1:2:3", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePortMapping(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrInvalidPortMapping), "got %v", err)
				assert.Equal(t, errors.KindValidation, errors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortMapping_String(t *testing.T) {
	assert.Equal(t, "2000:8080/tcp", PortMapping{2000, 8080, "tcp"}.String())
}

func TestParsePortMappings_FailsOnFirstBad(t *testing.T) {
	_, err := ParsePortMappings([]string{"2000:8080", "80:80"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"80:80"`)

	got, err := ParsePortMappings(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseInspectPorts(t *testing.T) {
	mappings, skipped := ParseInspectPorts("2000->8080/tcp  3000->53/udp  80->80/tcp  garbage  ")

	assert.Equal(t, []PortMapping{{2000, 8080, "tcp"}, {3000, 53, "udp"}}, mappings)
	assert.Equal(t, []string{"80->80/tcp", "garbage"}, skipped)

	none, skippedNone := ParseInspectPorts("")
	assert.Empty(t, none)
	assert.Empty(t, skippedNone)
}
