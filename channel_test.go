package callsdk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnectedLink() *fakeLink {
	link := newFakeLink()
	link.connected = true
	return link
}

func newTestChannel(link Link, timeout time.Duration) *Channel {
	return NewChannel(link, timeout, NewLogger("Channel"))
}

func reply(t *testing.T, event Event, requestId string, data H) *Message {
	fields := H{"event": event, "originalRequestId": requestId}
	if data != nil {
		fields["data"] = data
	}
	raw, err := EncodeCommand(Command(event), fields)
	require.NoError(t, err)

	msg, err := DecodeMessage(raw)
	require.NoError(t, err)

	return msg
}

func TestChannelIssue(t *testing.T) {
	link := newConnectedLink()
	channel := newTestChannel(link, time.Second)

	req, err := channel.Issue("req-1", CommandGetRtpCapabilities, H{"meetingRoomId": "room-1"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", req.Id)
	assert.Equal(t, CommandGetRtpCapabilities, req.Command)
	assert.Equal(t, 1, channel.PendingCount())

	f := link.WaitFrame(t, CommandGetRtpCapabilities)
	assert.Equal(t, "req-1", f.RequestId())
	assert.Equal(t, "room-1", f.String("meetingRoomId"))
}

func TestChannelResolveOnce(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), time.Second)

	req, err := channel.Issue("req-1", CommandGetRtpCapabilities, nil)
	require.NoError(t, err)

	msg := reply(t, EventRtpCapabilities, "req-1", H{"rtpCapabilities": H{"codecs": []H{}}})

	assert.True(t, channel.Resolve(msg))
	assert.False(t, channel.Resolve(msg))
	assert.Zero(t, channel.PendingCount())

	got, err := req.Result()
	require.NoError(t, err)
	assert.Same(t, msg, got)
}

func TestChannelResolveOutOfOrder(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), time.Second)

	first, err := channel.Issue("req-1", CommandCreateWebRtcTransport, nil)
	require.NoError(t, err)
	second, err := channel.Issue("req-2", CommandCreateWebRtcTransport, nil)
	require.NoError(t, err)

	assert.True(t, channel.Resolve(reply(t, EventWebRtcTransport, "req-2", H{"n": 2})))

	select {
	case <-first.Done():
		t.Fatal("first request completed by the reply to the second")
	default:
	}
	assert.True(t, channel.Resolve(reply(t, EventWebRtcTransport, "req-1", H{"n": 1})))

	msg, err := first.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(msg.Data))

	msg, err = second.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(msg.Data))
}

func TestChannelResolveUnmatched(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), time.Second)

	assert.False(t, channel.Resolve(reply(t, EventRtpCapabilities, "nobody", nil)))

	msg, err := DecodeMessage([]byte(`{"event":"WEBSOCKET_CONNECTED"}`))
	require.NoError(t, err)
	assert.False(t, channel.Resolve(msg))
}

func TestChannelRejectAll(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), time.Second)

	first, err := channel.Issue("req-1", CommandJoinMeetingRoom, nil)
	require.NoError(t, err)
	second, err := channel.Issue("req-2", CommandGetRtpCapabilities, nil)
	require.NoError(t, err)

	channel.RejectAll(ErrLinkClosed)

	for _, req := range []*PendingRequest{first, second} {
		_, err := req.Result()
		assert.ErrorIs(t, err, ErrLinkClosed)
	}
	assert.Zero(t, channel.PendingCount())
	assert.False(t, channel.Resolve(reply(t, EventRequestToJoinApproved, "req-1", nil)))

	// still usable
	_, err = channel.Issue("req-3", CommandJoinMeetingRoom, nil)
	assert.NoError(t, err)
}

func TestChannelClose(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), time.Second)

	req, err := channel.Issue("req-1", CommandJoinMeetingRoom, nil)
	require.NoError(t, err)

	channel.Close()
	channel.Close()

	_, err = req.Result()
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.True(t, channel.Closed())

	_, err = channel.Issue("req-2", CommandJoinMeetingRoom, nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, channel.Notify(CommandResumeConsumerStreamRequest, nil), ErrChannelClosed)
}

func TestChannelTimeout(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), 20*time.Millisecond)

	req, err := channel.Issue("req-1", CommandRestartIce, nil)
	require.NoError(t, err)

	select {
	case <-req.Done():
	case <-time.After(time.Second):
		t.Fatal("request did not time out")
	}
	_, err = req.Result()
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Zero(t, channel.PendingCount())

	// a late reply is not matched
	assert.False(t, channel.Resolve(reply(t, EventUnknown, "req-1", nil)))
}

func TestChannelDuplicateRequestId(t *testing.T) {
	link := newConnectedLink()
	channel := newTestChannel(link, time.Second)

	_, err := channel.Issue("req-1", CommandJoinMeetingRoom, nil)
	require.NoError(t, err)

	_, err = channel.Issue("req-1", CommandJoinMeetingRoom, nil)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, channel.PendingCount())
	assert.Len(t, link.Sent(CommandJoinMeetingRoom), 1)
}

func TestChannelSendFailure(t *testing.T) {
	link := newFakeLink()
	channel := newTestChannel(link, time.Second)

	_, err := channel.Issue("req-1", CommandJoinMeetingRoom, nil)
	assert.ErrorIs(t, err, ErrLinkClosed)
	assert.Zero(t, channel.PendingCount())

	link.connected = true
	link.sendErr = errors.New("broken pipe")

	_, err = channel.Issue("req-2", CommandJoinMeetingRoom, nil)
	assert.EqualError(t, err, "broken pipe")
	assert.Zero(t, channel.PendingCount())
}

func TestChannelRequest(t *testing.T) {
	link := newConnectedLink()
	link.onSend = func(l *fakeLink, f frame) {
		l.Deliver(H{"event": EventWebRtcTransport, "originalRequestId": f.RequestId(), "data": H{"ok": true}})
	}
	channel := newTestChannel(link, time.Second)
	link.On(LinkEventMessage, func(data []byte) {
		msg, err := DecodeMessage(data)
		require.NoError(t, err)
		channel.Resolve(msg)
	})

	msg, err := channel.Request(context.Background(), CommandCreateWebRtcTransport, H{"meetingRoomId": "room-1"})
	require.NoError(t, err)
	assert.Equal(t, EventWebRtcTransport, msg.Event)
	assert.JSONEq(t, `{"ok":true}`, string(msg.Data))
}

func TestChannelRequestCanceled(t *testing.T) {
	channel := newTestChannel(newConnectedLink(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := channel.Request(ctx, CommandCreateWebRtcTransport, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, channel.PendingCount())
}

func TestChannelNotify(t *testing.T) {
	link := newConnectedLink()
	channel := newTestChannel(link, time.Second)

	err := channel.Notify(CommandResumeConsumerStreamRequest, H{"consumerId": "consumer-1", "originalRequestId": "fresh"})
	require.NoError(t, err)

	f := link.WaitFrame(t, CommandResumeConsumerStreamRequest)
	assert.Equal(t, "consumer-1", f.String("consumerId"))
	assert.Equal(t, "fresh", f.RequestId())
	assert.Zero(t, channel.PendingCount())
}
