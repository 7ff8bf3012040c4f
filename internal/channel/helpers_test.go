package channel

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

func mustMarshal(t *testing.T, ch *Channel) []byte {
	t.Helper()
	data, err := ch.Marshal()
	require.NoError(t, err)
	return data
}

func unmarshalDescriptor(data []byte, desc *Descriptor) error {
	return sonic.Unmarshal(data, desc)
}

func mustMarshalDescriptor(t *testing.T, desc Descriptor) []byte {
	t.Helper()
	data, err := sonic.Marshal(desc)
	require.NoError(t, err)
	return data
}
