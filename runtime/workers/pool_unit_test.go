package workers

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPoolUnitWorker_Dispatches_Until_Channel_Closed(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	datagrams := make(chan domain.Datagram, 3)
	from := netip.MustParseAddrPort("127.0.0.1:40001")

	first := domain.Datagram{From: from, Payload: []byte("conn$Alice")}
	second := domain.Datagram{From: from, Payload: []byte("say$hi")}
	gomock.InOrder(
		dispatcher.EXPECT().Handle(gomock.Any(), first),
		dispatcher.EXPECT().Handle(gomock.Any(), second),
	)
	datagrams <- first
	datagrams <- second
	close(datagrams)

	worker := NewPoolUnitWorker(1, datagrams, dispatcher, logs.GetLoggerFromLevel(slog.LevelDebug))

	req.NoError(worker.Run(context.Background()))
}

func TestPoolUnitWorker_Survives_Panicking_Dispatch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	datagrams := make(chan domain.Datagram, 2)
	from := netip.MustParseAddrPort("127.0.0.1:40001")

	bad := domain.Datagram{From: from, Payload: []byte("boom$")}
	good := domain.Datagram{From: from, Payload: []byte("say$hi")}
	gomock.InOrder(
		dispatcher.EXPECT().Handle(gomock.Any(), bad).Do(func(context.Context, domain.Datagram) {
			panic("boom")
		}),
		dispatcher.EXPECT().Handle(gomock.Any(), good),
	)
	datagrams <- bad
	datagrams <- good
	close(datagrams)

	worker := NewPoolUnitWorker(1, datagrams, dispatcher, logs.GetLoggerFromLevel(slog.LevelDebug))

	req.NoError(worker.Run(context.Background()))
}

func TestPoolUnitWorker_Stops_On_Cancel(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockDispatcher(ctrl)
	worker := NewPoolUnitWorker(1, make(chan domain.Datagram), dispatcher, logs.GetLoggerFromLevel(slog.LevelDebug))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req.ErrorIs(worker.Run(ctx), context.DeadlineExceeded)
}
