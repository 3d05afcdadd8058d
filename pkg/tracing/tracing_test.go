package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceAttributes(t *testing.T) {
	got := ParseResourceAttributes(" service.namespace=mediaflow , team = media,bogus,=x,")
	assert.Equal(t, map[string]string{
		"service.namespace": "mediaflow",
		"team":              "media",
	}, got)

	assert.Empty(t, ParseResourceAttributes(""))
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "processor"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
