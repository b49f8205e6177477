package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snapshot() BridgeStatus {
	return BridgeStatus{
		ID: "bridge-0",
		Servers: []ServerStatus{
			{Protocol: ProtocolRaw, Connections: []ConnectionStatus{{ID: "a"}, {ID: "b"}}},
			{Protocol: ProtocolLocal},
			{Protocol: ProtocolTelnet, Connections: []ConnectionStatus{{ID: "c"}}},
		},
	}
}

func TestBridgeStatus_ConnectionCount(t *testing.T) {
	// Callable on a returned snapshot, not only on a variable
	assert.Equal(t, 3, snapshot().ConnectionCount())
	assert.Equal(t, 0, BridgeStatus{}.ConnectionCount())
}
