package dill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnbufferedRoundTrip(t *testing.T) {
	rt := New(NewConfig())
	h, err := rt.Main().NewChannel(0)
	require.NoError(t, err)

	var got any
	_, err = rt.Go(func(cr *Coroutine) {
		require.NoError(t, cr.Send(h, 555, -1))
	})
	require.NoError(t, err)

	got, err = rt.Main().Recv(h, -1)
	require.NoError(t, err)
	require.Equal(t, 555, got)
}

func TestBufferedRoundTripInOrder(t *testing.T) {
	rt := New(NewConfig())
	h, err := rt.Main().NewChannel(3)
	require.NoError(t, err)

	for _, v := range []int{1, 2, 3} {
		require.NoError(t, rt.Main().Send(h, v, -1))
	}
	for _, want := range []int{1, 2, 3} {
		got, err := rt.Main().Recv(h, -1)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDoneDrainsBufferThenPipe(t *testing.T) {
	rt := New(NewConfig())
	h, err := rt.Main().NewChannel(2)
	require.NoError(t, err)

	require.NoError(t, rt.Main().Send(h, 42, -1))
	require.NoError(t, rt.Main().Done(h))

	got, err := rt.Main().Recv(h, -1)
	require.NoError(t, err, "a buffered value must still be delivered after Done")
	require.Equal(t, 42, got)

	_, err = rt.Main().Recv(h, -1)
	require.ErrorIs(t, err, ErrPipe)
}

func TestDoneUnblocksParkedSender(t *testing.T) {
	rt := New(NewConfig())
	h, err := rt.Main().NewChannel(0)
	require.NoError(t, err)

	senderErr := make(chan error, 1)
	_, err = rt.Go(func(cr *Coroutine) {
		senderErr <- cr.Send(h, 1, -1)
	})
	require.NoError(t, err)

	require.NoError(t, rt.Main().Yield()) // let the sender park on the channel
	require.NoError(t, rt.Main().Done(h))
	require.NoError(t, rt.Main().Yield())

	require.ErrorIs(t, <-senderErr, ErrPipe)
}

func TestDoneTwiceIsAnError(t *testing.T) {
	rt := New(NewConfig())
	h, err := rt.Main().NewChannel(0)
	require.NoError(t, err)
	require.NoError(t, rt.Main().Done(h))
	require.ErrorIs(t, rt.Main().Done(h), ErrPipe)
}

func TestCloseChannelWakesParkedPeersWithPipe(t *testing.T) {
	rt := New(NewConfig())
	h, err := rt.Main().NewChannel(0)
	require.NoError(t, err)

	recvErr := make(chan error, 1)
	_, err = rt.Go(func(cr *Coroutine) {
		_, err := cr.Recv(h, -1)
		recvErr <- err
	})
	require.NoError(t, err)

	require.NoError(t, rt.Main().Yield())
	require.NoError(t, rt.Main().Close(h))
	require.NoError(t, rt.Main().Yield())

	require.ErrorIs(t, <-recvErr, ErrPipe)
}
