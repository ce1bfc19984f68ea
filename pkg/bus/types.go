package bus

import "github.com/finch-im/finch/pkg/model"

// RenderKind selects which part of the UI a command updates.
type RenderKind int

const (
	// KindStatus updates the session/connectivity indicators.
	KindStatus RenderKind = iota
	// KindPeers replaces the peer list.
	KindPeers
	// KindConversation replaces the whole conversation pane.
	KindConversation
	// KindMessage appends one message to the active conversation.
	KindMessage
	// KindNotice shows a transient user-facing notice.
	KindNotice
)

type StatusRender struct {
	Session      model.SessionStatus
	Username     string
	Connectivity model.Connectivity
}

type ConversationRender struct {
	Peer     model.Peer
	Messages []model.Message
}

type MessageRender struct {
	Message  model.Message
	Outgoing bool
}

type RenderCommand struct {
	Kind         RenderKind
	Status       *StatusRender
	Peers        []model.Peer
	Conversation *ConversationRender
	Message      *MessageRender
	Notice       string
}
