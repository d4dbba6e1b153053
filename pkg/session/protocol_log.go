package session

import (
	"time"

	"github.com/bzzt-protocol/bzzt-go/pkg/actuation"
	"github.com/bzzt-protocol/bzzt-go/pkg/log"
)

func (s *Session) protocolEvent(c *connection, dir log.Direction, layer log.Layer, cat log.Category, fill func(*log.Event)) log.Event {
	e := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		LocalRole:    log.RolePhone,
		RemoteAddr:   c.address,
	}
	fill(&e)
	return e
}

func (s *Session) logOutbound(c *connection, frame []byte) {
	s.plog.Log(s.protocolEvent(c, log.DirectionOut, log.LayerTransport, log.CategoryMessage, func(e *log.Event) {
		e.Frame = log.NewFrameEvent(frame)
	}))
	s.plog.Log(s.protocolEvent(c, log.DirectionOut, log.LayerWire, log.CategoryMessage, func(e *log.Event) {
		e.Message = &log.MessageEvent{Type: log.MessageTypeRegister}
	}))
}

func (s *Session) logInbound(c *connection, frame []byte) {
	s.plog.Log(s.protocolEvent(c, log.DirectionIn, log.LayerTransport, log.CategoryMessage, func(e *log.Event) {
		e.Frame = log.NewFrameEvent(frame)
	}))
}

func (s *Session) logPulse(c *connection, req actuation.Request) {
	intensity, duration := req.Command.Intensity, req.Command.Duration
	s.plog.Log(s.protocolEvent(c, log.DirectionIn, log.LayerWire, log.CategoryMessage, func(e *log.Event) {
		e.Message = &log.MessageEvent{Type: log.MessageTypePulse, Intensity: &intensity, Duration: &duration}
	}))
	s.plog.Log(s.protocolEvent(c, log.DirectionOut, log.LayerActuation, log.CategoryActuation, func(e *log.Event) {
		e.Actuation = &log.ActuationEvent{
			RequestedIntensity: req.Command.Intensity,
			RequestedDuration:  req.Command.Duration,
			Intensity:          req.Intensity,
			Duration:           req.Duration,
			Clamped:            req.Clamped(),
		}
	}))
}

func (s *Session) logError(c *connection, layer log.Layer, err error, context string) {
	s.plog.Log(s.protocolEvent(c, log.DirectionIn, layer, log.CategoryError, func(e *log.Event) {
		e.Error = &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: context}
	}))
}
