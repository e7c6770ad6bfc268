package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("nil tool service returns error", func(t *testing.T) {
		ports := &Ports{UserID: "alice"}
		server, err := NewServer(ports)
		require.Error(t, err)
		assert.Nil(t, server)
		assert.ErrorIs(t, err, ErrMissingToolService)
	})

	t.Run("valid ports creates server", func(t *testing.T) {
		ports := &Ports{
			Tools:  &mockToolService{},
			UserID: "alice",
		}
		server, err := NewServer(ports)
		require.NoError(t, err)
		assert.NotNil(t, server)
	})

	t.Run("all ports creates server", func(t *testing.T) {
		ports := &Ports{
			Tools:    &mockToolService{},
			Chat:     &mockChatService{},
			Document: &mockDocumentService{},
			UserID:   "alice",
		}
		server, err := NewServer(ports)
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestPorts_Validate(t *testing.T) {
	t.Run("nil tool service returns error", func(t *testing.T) {
		ports := &Ports{UserID: "alice"}
		assert.ErrorIs(t, ports.Validate(), ErrMissingToolService)
	})

	t.Run("missing user returns error", func(t *testing.T) {
		ports := &Ports{Tools: &mockToolService{}}
		assert.ErrorIs(t, ports.Validate(), ErrMissingUser)
	})

	t.Run("tools and user is valid", func(t *testing.T) {
		ports := &Ports{Tools: &mockToolService{}, UserID: "alice"}
		assert.NoError(t, ports.Validate())
	})
}
