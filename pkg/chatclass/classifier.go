package chatclass

import "strings"

// ChatType is the closed set of chat classifications derived from a remote JID.
type ChatType string

const (
	TypeIndividual ChatType = "individual"
	TypeGroup      ChatType = "group"
	TypeBroadcast  ChatType = "broadcast"
	TypeNewsletter ChatType = "newsletter"
	TypeCommunity  ChatType = "community"
	TypeStatus     ChatType = "status"
	TypeUnknown    ChatType = "unknown"
)

// MessageMeta carries the optional event metadata that influences classification.
type MessageMeta struct {
	Participant string
}

// Result is the classification outcome for a remote identifier.
type Result struct {
	Type                  ChatType
	Reason                string
	ShouldBlockAutomation bool
}

const (
	suffixUser       = "@s.whatsapp.net"
	suffixGroup      = "@g.us"
	suffixBroadcast  = "@broadcast"
	suffixNewsletter = "@newsletter"
	suffixLID        = "@lid"
	statusPrefix     = "status@"
)

// Classify maps a remote identifier (and optional message metadata) to a chat
// type and decides whether automated responses are permitted. Rules are
// evaluated in order; the first match wins.
func Classify(remoteID string, meta *MessageMeta) Result {
	id := strings.TrimSpace(remoteID)
	if id == "" {
		return Result{Type: TypeUnknown, Reason: "empty identifier", ShouldBlockAutomation: true}
	}

	// 1. Suffix-based disqualifiers.
	switch {
	case strings.HasPrefix(id, statusPrefix):
		return Result{Type: TypeStatus, Reason: "status broadcast", ShouldBlockAutomation: true}
	case strings.HasSuffix(id, suffixBroadcast):
		return Result{Type: TypeBroadcast, Reason: "broadcast list", ShouldBlockAutomation: true}
	case strings.HasSuffix(id, suffixNewsletter):
		return Result{Type: TypeNewsletter, Reason: "newsletter channel", ShouldBlockAutomation: true}
	case strings.HasSuffix(id, suffixGroup):
		if digitCount(localPart(id)) > 15 {
			return Result{Type: TypeCommunity, Reason: "community/group artifact id", ShouldBlockAutomation: true}
		}
		return Result{Type: TypeGroup, Reason: "group chat", ShouldBlockAutomation: true}
	}

	// 2. Group messages can arrive without the group suffix; the participant
	// field is only ever set on group events.
	if meta != nil && strings.TrimSpace(meta.Participant) != "" {
		return Result{Type: TypeGroup, Reason: "participant metadata present", ShouldBlockAutomation: true}
	}

	digits := digitCount(localPart(id))

	// 3. Oversized ids are community/group artifacts even without a suffix.
	if digits > 15 {
		return Result{Type: TypeUnknown, Reason: "identifier exceeds 15 digits", ShouldBlockAutomation: true}
	}

	// 4. Plausible individual number.
	if digits >= 10 && digits <= 15 {
		if strings.HasSuffix(id, suffixUser) || strings.HasSuffix(id, suffixLID) || !strings.Contains(id, "@") {
			return Result{Type: TypeIndividual, Reason: "individual chat", ShouldBlockAutomation: false}
		}
	}

	return Result{Type: TypeUnknown, Reason: "unrecognized identifier shape", ShouldBlockAutomation: true}
}

// IsGroupLike reports whether the classification marks the chat as anything
// other than an individual conversation.
func (r Result) IsGroupLike() bool {
	return r.Type != TypeIndividual
}

func localPart(id string) string {
	if idx := strings.Index(id, "@"); idx >= 0 {
		return id[:idx]
	}
	return id
}

func digitCount(s string) int {
	n := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n++
		}
	}
	return n
}
