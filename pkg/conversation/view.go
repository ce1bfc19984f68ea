// Package conversation holds the client-side view of the peer list and
// the currently open conversation.
//
// Messages reach the view from three sources that interleave freely:
// REST history fetches, REST send responses (local echo) and broker
// pushes. The view keeps the rendered sequence duplicate-free and
// ordered by timestamp, and drops results that arrive for a selection
// that has since been replaced.
package conversation

import (
	"sync"

	"github.com/finch-im/finch/pkg/model"
)

type View struct {
	mu       sync.Mutex
	selfID   model.FlexID
	peers    []model.Peer
	selected *model.Peer
	messages []model.Message
	gen      uint64
}

func NewView() *View {
	return &View{}
}

// SetSelf records the authenticated user's id, used to suppress broker
// echoes of the client's own sends.
func (v *View) SetSelf(id model.FlexID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selfID = id
}

func (v *View) SetPeers(peers []model.Peer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.peers = append([]model.Peer(nil), peers...)
}

func (v *View) Peers() []model.Peer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.Peer(nil), v.peers...)
}

func (v *View) PeerByUsername(username string) (model.Peer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range v.peers {
		if p.Username == username {
			return p, true
		}
	}
	return model.Peer{}, false
}

// SelectPeer replaces the open conversation wholesale and returns the
// new selection generation. A history fetch started for an older
// generation is discarded on arrival.
func (v *View) SelectPeer(peer model.Peer) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := peer
	v.selected = &p
	v.messages = nil
	v.gen++
	return v.gen
}

// ClearSelection drops the open conversation (logout).
func (v *View) ClearSelection() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = nil
	v.messages = nil
	v.gen++
}

func (v *View) Selected() (model.Peer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return model.Peer{}, false
	}
	return *v.selected, true
}

// ReceiveHistory installs a fetched history, replacing the message list
// entirely. Returns false when gen no longer matches the current
// selection: the fetch was superseded and its result must not populate
// the newer conversation.
func (v *View) ReceiveHistory(gen uint64, msgs []model.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || v.selected == nil {
		return false
	}
	v.messages = append([]model.Message(nil), msgs...)
	return true
}

// ReceivePush merges a broker-delivered message. Accepted only when a
// conversation is open, the sender is the selected peer, and the sender
// is not the user themselves (the client's own publish may echo back on
// its inbound topic).
func (v *View) ReceivePush(msg model.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return false
	}
	if v.selfID != "" && msg.SenderID == v.selfID {
		return false
	}
	if msg.SenderID != v.selected.ID {
		return false
	}
	return v.insert(msg)
}

// ReceiveSent appends the local echo of an outgoing message, using the
// message the backend returned from the send call.
func (v *View) ReceiveSent(msg model.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return false
	}
	return v.insert(msg)
}

func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.Message(nil), v.messages...)
}

// insert places msg in timestamp order, ties keeping arrival order, and
// skips ids already present. Callers hold v.mu.
func (v *View) insert(msg model.Message) bool {
	if msg.ID != "" {
		for _, existing := range v.messages {
			if existing.ID == msg.ID {
				return false
			}
		}
	}

	i := len(v.messages)
	if !msg.Timestamp.IsZero() {
		for i > 0 && !v.messages[i-1].Timestamp.IsZero() &&
			v.messages[i-1].Timestamp.After(msg.Timestamp.Time) {
			i--
		}
	}
	v.messages = append(v.messages, model.Message{})
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = msg
	return true
}
