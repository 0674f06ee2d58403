package callsdk

import (
	"context"
	"fmt"
)

func (o *Orchestrator) onSocketConnected() {
	if state := o.State(); state != StateSocketConnecting {
		o.logger.Info("WEBSOCKET_CONNECTED ignored", "state", state)
		return
	}
	o.setState(StateSocketConnected)

	if o.resumed {
		o.checkStatus()
		return
	}
	o.createConversation()
}

func (o *Orchestrator) createConversation() {
	gen, ctx := o.current()
	token := o.session.AuthToken()

	go func() {
		conversation, err := o.gateway.CreateConversation(ctx, token)

		o.post(gen, "createconversation", func() {
			if err != nil {
				o.fail("create conversation failed", err)
				return
			}
			o.session.setRoomId(conversation.MeetingRoomId)
			o.selectCommunicationMode()
		})
	}()
}

func (o *Orchestrator) selectCommunicationMode() {
	gen, ctx := o.current()
	token := o.session.AuthToken()
	mode := o.config.CommunicationMode

	go func() {
		err := o.gateway.SelectCommunicationMode(ctx, token, mode)

		o.post(gen, "selectmode", func() {
			if err != nil {
				o.fail("select communication mode failed", err)
				return
			}
			o.checkStatus()
		})
	}()
}

func (o *Orchestrator) checkStatus() {
	gen, ctx := o.current()
	token := o.session.AuthToken()

	go func() {
		status, err := o.gateway.CheckStatus(ctx, token)

		o.post(gen, "checkstatus", func() {
			if err != nil {
				if o.State() == StateSocketConnected {
					o.fail("check status failed", err)
				} else {
					o.abortStep("check status failed", err)
				}
				return
			}
			o.onStatus(status)
		})
	}()
}

func (o *Orchestrator) onStatus(status *ConversationStatus) {
	if len(status.MeetingRoomId) > 0 {
		o.session.setRoomId(status.MeetingRoomId)
	}
	o.emit(OrchestratorEventStatus, status.CallJoinStatus.DisplayText)

	if o.State() != StateSocketConnected {
		return
	}
	o.setState(StateRoomCreating)

	if !status.CallJoinStatus.AutoJoin() {
		o.logger.V(1).Info("waiting for Join()", "roomId", o.session.RoomId())
		return
	}
	o.join()
}

func (o *Orchestrator) join() {
	roomId := o.session.RoomId()

	o.setState(StateAwaitingApproval)

	req, err := o.channel.Issue(newRequestId(), CommandJoinMeetingRoom, H{
		"meetingRoomId": roomId,
	})
	if err != nil {
		o.fail("join meeting room failed", err)
		return
	}
	o.await(req, "joinmeetingroom", func(msg *Message, err error) {
		if err != nil {
			o.abortStep("join meeting room failed", err)
			return
		}
		o.approve(msg)
	})
}

// approve handles the join approval, whether it arrives as the join reply or
// as a push. Only the first one counts.
func (o *Orchestrator) approve(msg *Message) {
	switch state := o.State(); state {
	case StateAwaitingApproval, StateRoomCreating:
	default:
		o.logger.V(1).Info("approval ignored", "event", msg.Name, "state", state)
		return
	}
	o.logger.Info("join approved", "event", msg.Name, "roomId", o.session.RoomId())
	o.telemetry.SendLog("WebSocket:joinMeetingRoom succeed", map[string]interface{}{"meetingRoomId": o.session.RoomId()})

	o.emit(OrchestratorEventStatus, StatusJoined)
	o.setState(StateJoining)

	o.fetchCapabilities()
}

// await waits for req off the queue and runs fn with the outcome on the
// queue, unless the attempt has been torn down meanwhile.
func (o *Orchestrator) await(req *PendingRequest, name string, fn func(msg *Message, err error)) {
	gen, ctx := o.current()

	go func() {
		msg, err := waitRequest(ctx, req)

		o.post(gen, name, func() {
			fn(msg, err)
		})
	}()
}

// waitRequest waits for the reply of req. A MEDIA_SERVER_ERROR reply is
// returned as ErrMediaServer, the push path reports its text.
func waitRequest(ctx context.Context, req *PendingRequest) (*Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return serverReply(req.Wait(ctx))
}

func serverReply(msg *Message, err error) (*Message, error) {
	if err != nil {
		return nil, err
	}
	if msg.Event == EventMediaServerError {
		return nil, fmt.Errorf("%w: %s", ErrMediaServer, msg.ErrorMessage())
	}
	return msg, nil
}
