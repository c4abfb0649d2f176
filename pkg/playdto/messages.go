// Package playdto defines the JSON messages exchanged with the browser board.
package playdto

// Inbound message types.
const (
	TypeSignIn         = "sign_in"
	TypeSignUp         = "sign_up"
	TypeSignInProvider = "sign_in_provider"
	TypeSignOut        = "sign_out"
	TypeNavigate       = "navigate"
	TypeLift           = "lift"
	TypeDrop           = "drop"
	TypeNewGame        = "new_game"
	TypeUndo           = "undo"
	TypeEngineMove     = "engine_move"
)

// Outbound message types.
const (
	TypePosition   = "position"
	TypeStatus     = "status"
	TypeNotice     = "notice"
	TypeLiftResult = "lift_result"
	TypeDropResult = "drop_result"
	TypeActor      = "actor"
	TypeAuthError  = "auth_error"
	TypeError      = "error"
)

// SectionPlay is the navigation section hosting the board.
const SectionPlay = "play"

// ClientMessage is the envelope of every message the browser sends.
type ClientMessage struct {
	Type string `json:"type"`

	Email      string `json:"email,omitempty"`
	Password   string `json:"password,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	Credential string `json:"credential,omitempty"`

	Section string `json:"section,omitempty"`

	Square string `json:"square,omitempty"`
	Piece  string `json:"piece,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

type Position struct {
	Type string `json:"type"`
	FEN  string `json:"fen"`
}

type Status struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Turn      string `json:"turn"`
	Check     bool   `json:"check"`
	Checkmate bool   `json:"checkmate"`
	Draw      bool   `json:"draw"`
}

type Notice struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Text  string `json:"text"`
}

type LiftResult struct {
	Type  string `json:"type"`
	Allow bool   `json:"allow"`
}

// DropResult with Accept false tells the board to snap the piece back.
type DropResult struct {
	Type     string `json:"type"`
	Accept   bool   `json:"accept"`
	Reason   string `json:"reason,omitempty"`
	SAN      string `json:"san,omitempty"`
	Position string `json:"fen,omitempty"`
}

// Actor is sent on every auth change; an empty UID means signed out.
type Actor struct {
	Type        string `json:"type"`
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Token       string `json:"token,omitempty"`
}

type AuthError struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(err DomainError) Error {
	return Error{Type: TypeError, Code: err.Code, Message: err.Error()}
}
