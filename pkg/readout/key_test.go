package readout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "lowercase", input: "64ba49f1a8562e45197a8e1fe50d7658", want: testKey},
		{name: "uppercase", input: "64BA49F1A8562E45197A8E1FE50D7658", want: testKey},
		{name: "grouped with spaces", input: " 64ba49f1 a8562e45\t197a8e1f e50d7658\n", want: testKey},
		{name: "empty", input: "", wantErr: true},
		{name: "too short", input: "64ba49f1", wantErr: true},
		{name: "too long", input: "64ba49f1a8562e45197a8e1fe50d765800", wantErr: true},
		{name: "not hex", input: "zzba49f1a8562e45197a8e1fe50d7658", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
