package reporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    []EnvironmentItem
		wantErr bool
	}{
		{
			name: "empty",
			want: []EnvironmentItem{},
		},
		{
			name:    "keeps order",
			entries: []string{"network=devnet", "client=op-geth"},
			want:    []EnvironmentItem{{Key: "network", Value: "devnet"}, {Key: "client", Value: "op-geth"}},
		},
		{
			name:    "value may contain separator",
			entries: []string{"rpc=http://host:8545?a=b"},
			want:    []EnvironmentItem{{Key: "rpc", Value: "http://host:8545?a=b"}},
		},
		{
			name:    "key is trimmed and value kept",
			entries: []string{" node = a b "},
			want:    []EnvironmentItem{{Key: "node", Value: " a b "}},
		},
		{
			name:    "empty value",
			entries: []string{"flag="},
			want:    []EnvironmentItem{{Key: "flag", Value: ""}},
		},
		{
			name:    "missing separator",
			entries: []string{"network"},
			wantErr: true,
		},
		{
			name:    "empty key",
			entries: []string{"=devnet"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvironment(tt.entries)
			if tt.wantErr {
				require.ErrorIs(t, err, errMalformedEnvironment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    InputFormat
		wantErr bool
	}{
		{in: "go-test", want: InputFormatGoTest},
		{in: "ginkgo", want: InputFormatGinkgo},
		{in: "junit", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInputFormat(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownInputFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
