// Package control implements the local control socket applications use to
// bind one of their sockets to a (peer, channel) route.
//
// Each datagram on the socket carries one registration encoded as the CBOR
// array [app_socket_path, peer_id, channel_id].
package control

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// maxMessageSize bounds one control datagram.
const maxMessageSize = 64 * 1024

// Registration asks the daemon to connect to AppSocket and bridge it to
// channel Channel of peer PeerID.
type Registration struct {
	_ struct{} `cbor:",toarray"`

	AppSocket string
	PeerID    string
	Channel   uint16
}

func (r Registration) String() string {
	return fmt.Sprintf("%s <-> %s/%d", r.AppSocket, r.PeerID, r.Channel)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("control: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
	}.DecMode()
	if err != nil {
		panic("control: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a registration into one control datagram.
func Encode(r Registration) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(r)
}

// Decode parses one control datagram.
func Decode(data []byte) (Registration, error) {
	var r Registration
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Registration{}, fmt.Errorf("decode registration: %w", err)
	}
	if err := r.validate(); err != nil {
		return Registration{}, err
	}
	return r, nil
}

func (r Registration) validate() error {
	if r.AppSocket == "" {
		return errors.New("registration has no application socket path")
	}
	if r.PeerID == "" {
		return errors.New("registration has no peer id")
	}
	return nil
}
