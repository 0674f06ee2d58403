package callsdk

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

func (o *Orchestrator) fetchCapabilities() {
	o.setState(StateFetchingCapabilities)

	req, err := o.channel.Issue(newRequestId(), CommandGetRtpCapabilities, H{
		"meetingRoomId": o.session.RoomId(),
	})
	if err != nil {
		o.abortStep("get rtp capabilities failed", err)
		return
	}
	o.await(req, "getrtpcapabilities", func(msg *Message, err error) {
		if err != nil {
			o.abortStep("get rtp capabilities failed", err)
			return
		}
		caps, err := msg.RtpCapabilities()
		if err != nil {
			o.abortStep("get rtp capabilities failed", err)
			return
		}
		o.session.setRtpCapabilities(caps)
		o.loadDevice(caps)
	})
}

func (o *Orchestrator) loadDevice(caps json.RawMessage) {
	o.setState(StateDeviceLoading)

	gen, ctx := o.current()
	media := o.mediaSession()
	kinds := o.kinds

	go func() {
		ready, err := loadMediaSession(ctx, media, caps, kinds)

		o.post(gen, "loaddevice", func() {
			if err != nil {
				o.abortStep("load device failed", err)
				return
			}
			if !ready {
				o.abortStep("load device failed", ErrDeviceNotReady)
				return
			}
			o.telemetry.SendLog("Device:loaded", nil)
			o.createTransports()
		})
	}()
}

func loadMediaSession(ctx context.Context, media *MediaSession, caps json.RawMessage, kinds []MediaKind) (bool, error) {
	for _, kind := range kinds {
		if kind != MediaKind_Audio {
			continue
		}
		granted, err := media.CheckMicrophonePermission(ctx)
		if err != nil {
			return false, err
		}
		if !granted {
			return false, ErrAudioNotAuthorized
		}
	}
	return media.LoadCapabilities(caps, kinds)
}

// createTransports requests the send and the receive transport concurrently
// and opens both once both descriptors are known.
func (o *Orchestrator) createTransports() {
	o.setState(StateCreatingTransports)

	gen, ctx := o.current()
	media := o.mediaSession()
	roomId := o.session.RoomId()

	go func() {
		var send, recv *TransportDescriptor

		// a failed request cancels gctx, which drops its sibling from the
		// pending set
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			send, err = o.requestTransport(gctx, roomId)
			return
		})
		g.Go(func() (err error) {
			recv, err = o.requestTransport(gctx, roomId)
			return
		})
		err := g.Wait()

		if err == nil {
			err = media.OpenSendTransport(*send)
		}
		if err == nil {
			err = media.OpenReceiveTransport(*recv)
		}

		o.post(gen, "createtransports", func() {
			if err != nil {
				o.abortStep("create transports failed", err)
				return
			}
			o.session.setTransportId(TransportDirection_Send, send.Id)
			o.session.setTransportId(TransportDirection_Recv, recv.Id)
			o.produce()
		})
	}()
}

func (o *Orchestrator) requestTransport(ctx context.Context, roomId string) (*TransportDescriptor, error) {
	msg, err := serverReply(o.channel.Request(ctx, CommandCreateWebRtcTransport, H{
		"meetingRoomId": roomId,
	}))
	if err != nil {
		return nil, err
	}
	return msg.WebRtcTransport()
}

func (o *Orchestrator) produce() {
	o.setState(StateProducing)

	gen, _ := o.current()
	media := o.mediaSession()

	for _, kind := range o.kinds {
		kind := kind

		go func() {
			producer, err := media.Produce(kind)

			o.post(gen, "produce", func() {
				if err != nil {
					o.abortStep(fmt.Sprintf("produce %s failed", kind), err)
					return
				}
				o.logger.V(1).Info("producer ready", "kind", kind, "producerId", producer.Id())
			})
		}()
	}
}

func (o *Orchestrator) pumpMediaEvents(gen uint64, media *MediaSession) {
	for {
		select {
		case ev := <-media.Events():
			o.post(gen, "mediaevent", func() {
				o.handleMediaEvent(ev)
			})
		case <-media.Done():
			return
		}
	}
}

func (o *Orchestrator) handleMediaEvent(ev MediaEvent) {
	switch ev := ev.(type) {
	case *TransportConnectEvent:
		o.onTransportConnect(ev)

	case *ProduceEvent:
		o.onProduce(ev)

	case *ProduceDataEvent:
		o.logger.Info("data producer refused", "transportId", ev.TransportId, "label", ev.Label)

	case *ConnectionStateEvent:
		o.telemetry.SendLog("Transport:connectionStateChange", map[string]interface{}{
			"direction": string(ev.Direction()),
			"state":     string(ev.State),
		})
		if ev.State.NeedsIceRestart() {
			o.restartIce(ev.Direction(), ev.TransportId)
		}

	case *ProducerTransportCloseEvent:
		o.logger.Info("producer transport closed", "producerId", ev.ProducerId)
	}
}

// onTransportConnect signals the DTLS parameters of a local transport and
// acknowledges the engine once the server has answered.
func (o *Orchestrator) onTransportConnect(ev *TransportConnectEvent) {
	// TODO: confirm against the live backend that CONNECT_WEBRTC_TRANSPORT is
	// always answered; an unanswered connect stalls the engine until timeout.
	req, err := o.channel.Issue(newRequestId(), CommandConnectWebRtcTransport, H{
		"meetingRoomId":  o.session.RoomId(),
		"transportId":    ev.TransportId,
		"dtlsParameters": ev.DtlsParameters,
	})
	if err != nil {
		o.abortStep("connect transport failed", err)
		ev.Ack(err)
		return
	}
	_, ctx := o.current()

	go func() {
		_, err := waitRequest(ctx, req)
		if err != nil {
			o.logger.Error(err, "connect transport failed", "transportId", ev.TransportId)
		}
		ev.Ack(err)
	}()
}

func (o *Orchestrator) onProduce(ev *ProduceEvent) {
	rtpParameters, err := overrideEncodings(ev.RtpParameters)
	if err != nil {
		o.abortStep("produce failed", err)
		ev.Ack("", err)
		return
	}

	req, err := o.channel.Issue(newRequestId(), CommandCreateWebRtcTransportProd, H{
		"meetingRoomId":       o.session.RoomId(),
		"producerTransportId": o.session.TransportId(TransportDirection_Send),
		"data": H{
			"kind":          ev.Kind,
			"rtpParameters": rtpParameters,
			"mediaType":     ev.Kind,
		},
	})
	if err != nil {
		o.abortStep("produce failed", err)
		ev.Ack("", err)
		return
	}

	o.await(req, "createproducer", func(msg *Message, err error) {
		if err != nil {
			o.abortStep("produce failed", err)
			ev.Ack("", err)
			return
		}
		producer, err := msg.Producer()
		if err != nil {
			o.abortStep("produce failed", err)
			ev.Ack("", err)
			return
		}
		o.session.setProducerId(ev.Kind, producer.Id)
		o.telemetry.SendLog("SendTransport:produce succeed", map[string]interface{}{
			"kind":                        string(ev.Kind),
			"producerId":                  producer.Id,
			"originalRequestIdFromServer": msg.OriginalRequestId,
		})

		ev.Ack(msg.OriginalRequestId, nil)

		o.consumeRemote()
	})
}

func (o *Orchestrator) onRemoteProducers(msg *Message) {
	producers, err := msg.RemoteProducers()
	if err != nil {
		o.abortStep("remote producers dropped", err)
		return
	}
	o.session.setRemoteProducers(producers)

	o.logger.V(1).Info("remote producers", "count", len(producers))

	o.consumeRemote()
}

// consumeRemote creates at most one consumer per kind, for kinds already
// produced locally that have a remote producer.
func (o *Orchestrator) consumeRemote() {
	if !o.State().joined() {
		return
	}
	if len(o.session.TransportId(TransportDirection_Recv)) == 0 {
		return
	}
	remotes := o.session.RemoteProducers()

	for _, kind := range o.kinds {
		if len(o.session.ProducerId(kind)) == 0 || o.session.ConsumerCreated(kind) {
			continue
		}
		for _, remote := range remotes {
			if remote.Kind != kind {
				continue
			}
			if !o.session.markConsumerCreated(kind) {
				break
			}
			if o.State() == StateProducing {
				o.setState(StateConsumingRemote)
			}
			o.consume(remote)
			break
		}
	}
}

func (o *Orchestrator) consume(remote RemoteProducer) {
	req, err := o.channel.Issue(newRequestId(), CommandCreateWebRtcTransportCons, H{
		"meetingRoomId":       o.session.RoomId(),
		"consumerTransportId": o.session.TransportId(TransportDirection_Recv),
		"producerId":          remote.Id,
		"data": H{
			"producerId":      remote.Id,
			"rtpCapabilities": o.session.RtpCapabilities(),
			"mediaType":       remote.MediaType,
		},
	})
	if err != nil {
		o.abortStep("consume failed", err)
		return
	}
	gen, ctx := o.current()
	media := o.mediaSession()

	go func() {
		var info *ConsumerInfo

		msg, err := waitRequest(ctx, req)
		if err == nil {
			info, err = msg.Consumer()
		}
		if err == nil {
			_, err = media.Consume(*info)
		}

		o.post(gen, "consume", func() {
			if err != nil {
				o.abortStep(fmt.Sprintf("consume %s failed", remote.Kind), err)
				return
			}
			o.session.setConsumerId(remote.Kind, info.Id)

			if err := o.channel.Notify(CommandResumeConsumerStreamRequest, H{
				"originalRequestId": newRequestId(),
				"meetingRoomId":     o.session.RoomId(),
				"consumerId":        info.Id,
			}); err != nil {
				o.abortStep("resume consumer failed", err)
			}
			o.telemetry.SendLog("RecvTransport:consume succeed", map[string]interface{}{
				"kind":       string(remote.Kind),
				"consumerId": info.Id,
			})

			o.checkActive()
		})
	}()
}

func (o *Orchestrator) checkActive() {
	for _, kind := range o.kinds {
		if len(o.session.ConsumerId(kind)) == 0 {
			return
		}
	}
	o.setState(StateActive)
}

// restartIce asks the server for new ICE parameters of transportId and
// hands them to the engine. Failures are only logged.
func (o *Orchestrator) restartIce(direction TransportDirection, transportId string) {
	if !o.State().joined() {
		return
	}
	req, err := o.channel.Issue(newRequestId(), CommandRestartIce, H{
		"meetingRoomId": o.session.RoomId(),
		"transportId":   transportId,
	})
	if err != nil {
		o.logger.Error(err, "restart ice failed", "transportId", transportId)
		return
	}
	_, ctx := o.current()
	media := o.mediaSession()

	go func() {
		var iceParameters *IceParameters

		msg, err := waitRequest(ctx, req)
		if err == nil {
			iceParameters, err = msg.IceParameters()
		}
		if err == nil {
			err = media.RestartIce(direction, *iceParameters)
		}
		if err != nil {
			o.logger.Error(err, "restart ice failed", "transportId", transportId)
			o.telemetry.CaptureError("restart ice failed", err)
			return
		}
		o.logger.Info("ice restarted", "direction", direction, "transportId", transportId)
	}()
}
