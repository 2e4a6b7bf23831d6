package nostr

// Event kinds with relay-level meaning.
const (
	KindProfileMetadata     = 0
	KindTextNote            = 1
	KindContactList         = 3
	KindRegistrationRequest = 9024
)

// Bootstrap kinds may be written by identities which are not (yet) whitelisted, so that
// new members can announce themselves and ask to be approved.
func IsBootstrapKind(kind int) bool {
	return kind == KindProfileMetadata || kind == KindRegistrationRequest
}

// Treatment describes how an event of a given kind is persisted.
type Treatment int

const (
	// Regular events are append-only.
	Regular Treatment = iota
	// Replaceable events keep only the latest event per (pubkey, kind).
	Replaceable
	// ParameterizedReplaceable events keep only the latest event per (pubkey, kind, d-tag).
	ParameterizedReplaceable
	// Ephemeral events are broadcast but never stored.
	Ephemeral
)

func (t Treatment) String() string {
	switch t {
	case Regular:
		return "regular"
	case Replaceable:
		return "replaceable"
	case ParameterizedReplaceable:
		return "parameterized_replaceable"
	case Ephemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// ClassifyKind maps a kind to its persistence treatment.
func ClassifyKind(kind int) Treatment {
	switch {
	case kind >= 20000 && kind < 30000:
		return Ephemeral
	case kind >= 10000 && kind < 20000, kind == KindProfileMetadata, kind == KindContactList:
		return Replaceable
	case kind >= 30000 && kind < 40000:
		return ParameterizedReplaceable
	default:
		return Regular
	}
}
