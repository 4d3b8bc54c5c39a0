package webrtc

import (
	pion "github.com/pion/webrtc/v4"
)

// ControlStream is the ordered, reliable message stream between the peers.
type ControlStream interface {
	Label() string
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte))
	SendText(text string) error
	Close() error
}

type dataChannelStream struct {
	dc *pion.DataChannel
}

func newDataChannelStream(dc *pion.DataChannel) *dataChannelStream {
	return &dataChannelStream{dc: dc}
}

func (s *dataChannelStream) Label() string { return s.dc.Label() }

func (s *dataChannelStream) OnOpen(fn func()) { s.dc.OnOpen(fn) }

func (s *dataChannelStream) OnClose(fn func()) { s.dc.OnClose(fn) }

func (s *dataChannelStream) OnMessage(fn func(data []byte)) {
	s.dc.OnMessage(func(msg pion.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (s *dataChannelStream) SendText(text string) error {
	return s.dc.SendText(text)
}

func (s *dataChannelStream) Close() error {
	return s.dc.Close()
}
