package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPushIngress_Route(t *testing.T) {
	f := newCoordinatorFixture(t, nil)
	f.coordinator.Attach(f.dispatcher)
	ingress := NewPushIngress(f.dispatcher, f.coordinator, zaptest.NewLogger(t))
	ctx := context.Background()

	fg := eventMessage("m-1", "1")
	bg := eventMessage("m-2", "2")
	opened := eventMessage("m-3", "3")

	require.NoError(t, ingress.Route(ctx, KindForeground, &fg, ""))
	require.NoError(t, ingress.Route(ctx, KindBackground, &bg, ""))
	assert.Equal(t, 2, f.display.count())

	f.coordinator.NavigationReady(ctx)
	require.NoError(t, ingress.Route(ctx, KindOpened, &opened, ""))
	require.NoError(t, ingress.Route(ctx, KindLaunch, nil, ""))
	assert.Len(t, f.navigator.all(), 1)

	assert.Error(t, ingress.Route(ctx, KindForeground, nil, ""))
	assert.Error(t, ingress.Route(ctx, "sideways", &fg, ""))
	require.NoError(t, ingress.Route(ctx, KindToken, nil, "device-token"))
}
