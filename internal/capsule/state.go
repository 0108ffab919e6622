// Package capsule defines the CapsuleState data model the session controller
// (C6) publishes and the capsule UI (an external collaborator, out of core
// scope per spec.md §1) consumes.
package capsule

// Kind is the closed set of capsule states from spec.md §3.
type Kind string

const (
	Idle             Kind = "idle"
	Listening        Kind = "listening"
	Processing       Kind = "processing"
	CopiedToClip     Kind = "copiedToClipboard"
	Error            Kind = "error"
	Initializing     Kind = "initializing"
	Downloading      Kind = "downloading"
	Extracting       Kind = "extracting"
)

// ErrorKind is the closed set of error kinds from spec.md §3.
type ErrorKind string

const (
	ErrAudioNoDevice         ErrorKind = "audioNoDevice"
	ErrAudioDeviceBusy       ErrorKind = "audioDeviceBusy"
	ErrAudioPermissionDenied ErrorKind = "audioPermissionDenied"
	ErrAudioDeviceLost       ErrorKind = "audioDeviceLost"
	ErrAudioInitFailed       ErrorKind = "audioInitFailed"
	ErrModelNotFound         ErrorKind = "modelNotFound"
	ErrModelIncomplete       ErrorKind = "modelIncomplete"
	ErrModelCorrupted        ErrorKind = "modelCorrupted"
	ErrModelLoadFailed       ErrorKind = "modelLoadFailed"
	ErrSocketError           ErrorKind = "socketError"
	ErrUnknown               ErrorKind = "unknown"
)

// SocketSubKind is the closed set of socketError sub-kinds from spec.md §3.
type SocketSubKind string

const (
	SocketNotFound            SocketSubKind = "socketNotFound"
	SocketConnectionFailed    SocketSubKind = "connectionFailed"
	SocketConnectionTimeout   SocketSubKind = "connectionTimeout"
	SocketSendFailed          SocketSubKind = "sendFailed"
	SocketMessageTooLarge     SocketSubKind = "messageTooLarge"
	SocketReconnectFailed     SocketSubKind = "reconnectFailed"
	SocketPermissionInsecure  SocketSubKind = "socketPermissionInsecure"
)

// State is the tagged-variant CapsuleState of spec.md §3. Only the fields
// relevant to Kind are populated; the rest are zero values, mirroring the
// teacher's style of plain structs with mode-discriminant fields
// (Config.Model/Language/Hotkey, modelEntry) rather than an interface
// hierarchy.
type State struct {
	Kind Kind

	// listening / processing
	Partial string

	// error
	ErrorKind       ErrorKind
	ErrorMessage    string
	PreservedText   string
	SocketSubKind   SocketSubKind
	PreventAutoHide bool

	// downloading
	Progress int64 // bytes downloaded
	Total    int64 // total bytes, 0 if unknown

	// extracting
	ExtractProgress float64 // 0.0-1.0
}

// IdleState is the initial value of a Broadcaster.
var IdleState = State{Kind: Idle}
