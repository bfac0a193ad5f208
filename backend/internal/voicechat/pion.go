package voicechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"codeColab/backend/internal/room"
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// PionFactory 用 pion 创建真实的 PeerConnection，只协商音频。
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPionFactory(stunServers []string) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: cfg,
	}, nil
}

type trackSource interface {
	Track() webrtc.TrackLocal
}

func (f *PionFactory) NewPeer(remote room.ConnID, local LocalAudio, ev PeerEvents) (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if src, ok := local.(trackSource); ok {
		sender, err := pc.AddTrack(src.Track())
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
		// 必须读走 RTCP，否则发送端会阻塞
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	} else {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add transceiver: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || ev.OnICECandidate == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		ev.OnICECandidate(data)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		sink := newRemoteAudio(track)
		if ev.OnRemoteAudio != nil {
			ev.OnRemoteAudio(sink)
		}
	})

	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(p.pc.LocalDescription())
}

func (p *pionPeer) AcceptOffer(sdp json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(p.pc.LocalDescription())
}

func (p *pionPeer) AcceptAnswer(sdp json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return p.pc.SetRemoteDescription(answer)
}

func (p *pionPeer) AddICECandidate(candidate json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &c); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) Close() error { return p.pc.Close() }

// remoteAudio 读取远端音轨的 RTP 包。没有声卡输出，只统计收到的包数。
type remoteAudio struct {
	track   *webrtc.TrackRemote
	packets atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

func newRemoteAudio(track *webrtc.TrackRemote) *remoteAudio {
	a := &remoteAudio{track: track, done: make(chan struct{})}
	go a.drain()
	return a
}

func (a *remoteAudio) drain() {
	for {
		select {
		case <-a.done:
			return
		default:
		}
		if _, _, err := a.track.ReadRTP(); err != nil {
			return
		}
		a.packets.Add(1)
	}
}

func (a *remoteAudio) Packets() uint64 { return a.packets.Load() }

func (a *remoteAudio) Close() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

// SilentMicrophone 产生静音 opus 帧，给没有音频设备的 probe 使用。
type SilentMicrophone struct{}

// opus 的静音帧
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

func (SilentMicrophone) Open(ctx context.Context) (LocalAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "codecolab",
	)
	if err != nil {
		return nil, err
	}
	s := &silentAudio{track: track, done: make(chan struct{})}
	s.enabled.Store(true)
	go s.run()
	return s, nil
}

type silentAudio struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func (s *silentAudio) Track() webrtc.TrackLocal { return s.track }

func (s *silentAudio) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *silentAudio) run() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.enabled.Load() {
				continue
			}
			err := s.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration})
			if err != nil && !errors.Is(err, io.ErrClosedPipe) {
				return
			}
		}
	}
}

func (s *silentAudio) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
