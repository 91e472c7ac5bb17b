package transport

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO v4 packet types, carried inside Engine.IO message packets.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var (
	pongPacket       = []byte{eioPong}
	connectPacket    = []byte{eioMessage, sioConnect}
	disconnectPacket = []byte{eioMessage, sioDisconnect}
)

var errMalformedPacket = errors.New("malformed packet")

// openPacket is the Engine.IO handshake body.
type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// packet is a decoded frame. For socket.io events Event and Data are set.
type packet struct {
	eio   byte
	sio   byte
	Event string
	Data  json.RawMessage
	Body  []byte
}

// encodeEvent frames a socket.io event on the default namespace.
func encodeEvent(event string, payload any) ([]byte, error) {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", event)
	}
	buf := make([]byte, 0, len(body)+2)
	buf = append(buf, eioMessage, sioEvent)
	return append(buf, body...), nil
}

// decodePacket parses one websocket text frame.
func decodePacket(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, errMalformedPacket
	}
	p := packet{eio: frame[0], Body: frame[1:]}
	if p.eio != eioMessage {
		return p, nil
	}
	if len(p.Body) == 0 {
		return packet{}, errMalformedPacket
	}
	p.sio = p.Body[0]
	p.Body = p.Body[1:]
	if p.sio != sioEvent {
		return p, nil
	}

	// Events may carry an ack id before the array; it is not used by this protocol.
	body := bytes.TrimLeft(p.Body, "0123456789")
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) == 0 {
		return packet{}, errMalformedPacket
	}
	if err := json.Unmarshal(parts[0], &p.Event); err != nil {
		return packet{}, errMalformedPacket
	}
	if len(parts) > 1 {
		p.Data = parts[1]
	}
	return p, nil
}

// endpointURL turns the configured socket base URL into the websocket handshake URL.
func endpointURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parse socket url %q", base)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(path, "/") + "/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
