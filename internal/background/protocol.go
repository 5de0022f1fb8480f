package background

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/auth"
	"github.com/dmitrijs2005/prwatch/internal/models"
)

var (
	// ErrUnknownCommand rejects a command type the daemon does not handle.
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadPayload     = errors.New("malformed command payload")
)

type CommandType string

const (
	TypeCheckPRs              CommandType = "CHECK_PRS"
	TypeSetPassword           CommandType = "SET_PASSWORD"
	TypeGetRememberedPassword CommandType = "GET_REMEMBERED_PASSWORD"
	TypeClearSession          CommandType = "CLEAR_SESSION"
	TypePopupOpened           CommandType = "POPUP_OPENED"
	TypeGetAuthState          CommandType = "GET_AUTH_STATE"
	TypeSubmitToken           CommandType = "SUBMIT_TOKEN"
	TypeSetupPassword         CommandType = "SETUP_PASSWORD"
	TypeUnlock                CommandType = "UNLOCK"
	TypeChangePassword        CommandType = "CHANGE_PASSWORD"
	TypeSignOut               CommandType = "SIGN_OUT"
	TypeReset                 CommandType = "RESET"
	TypeGetData               CommandType = "GET_DATA"
	TypeUpdatePreferences     CommandType = "UPDATE_PREFERENCES"
)

// Command is one request from a client. Each concrete type has exactly one
// handler in Service.
type Command interface {
	Type() CommandType
}

type CheckPRs struct {
	// Password, when set, is adopted as the session password first.
	Password    string `json:"password,omitempty"`
	Manual      bool   `json:"manual,omitempty"`
	CustomQuery string `json:"customQuery,omitempty"`
}

type SetPassword struct {
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type GetRememberedPassword struct{}

type ClearSession struct{}

type PopupOpened struct{}

type GetAuthState struct{}

type SubmitToken struct {
	Token string `json:"token"`
}

type SetupPassword struct {
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
	Remember bool   `json:"remember"`
}

type Unlock struct {
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type ChangePassword struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
	Confirm     string `json:"confirm"`
	Remember    bool   `json:"remember"`
}

type SignOut struct{}

type Reset struct{}

type GetData struct {
	ShowHidden bool `json:"showHidden,omitempty"`
}

type UpdatePreferences struct {
	Preferences    models.PreferencesPatch `json:"preferences"`
	FirstRunNotify *bool                   `json:"notifyOnFirstRun,omitempty"`
}

func (CheckPRs) Type() CommandType              { return TypeCheckPRs }
func (SetPassword) Type() CommandType           { return TypeSetPassword }
func (GetRememberedPassword) Type() CommandType { return TypeGetRememberedPassword }
func (ClearSession) Type() CommandType          { return TypeClearSession }
func (PopupOpened) Type() CommandType           { return TypePopupOpened }
func (GetAuthState) Type() CommandType          { return TypeGetAuthState }
func (SubmitToken) Type() CommandType           { return TypeSubmitToken }
func (SetupPassword) Type() CommandType         { return TypeSetupPassword }
func (Unlock) Type() CommandType                { return TypeUnlock }
func (ChangePassword) Type() CommandType        { return TypeChangePassword }
func (SignOut) Type() CommandType               { return TypeSignOut }
func (Reset) Type() CommandType                 { return TypeReset }
func (GetData) Type() CommandType               { return TypeGetData }
func (UpdatePreferences) Type() CommandType     { return TypeUpdatePreferences }

// Envelope is the wire form of a Command.
type Envelope struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(cmd Command) (*Envelope, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Type(), err)
	}
	return &Envelope{Type: cmd.Type(), Payload: payload}, nil
}

func Decode(env *Envelope) (Command, error) {
	switch env.Type {
	case TypeCheckPRs:
		return decodeAs[CheckPRs](env)
	case TypeSetPassword:
		return decodeAs[SetPassword](env)
	case TypeGetRememberedPassword:
		return decodeAs[GetRememberedPassword](env)
	case TypeClearSession:
		return decodeAs[ClearSession](env)
	case TypePopupOpened:
		return decodeAs[PopupOpened](env)
	case TypeGetAuthState:
		return decodeAs[GetAuthState](env)
	case TypeSubmitToken:
		return decodeAs[SubmitToken](env)
	case TypeSetupPassword:
		return decodeAs[SetupPassword](env)
	case TypeUnlock:
		return decodeAs[Unlock](env)
	case TypeChangePassword:
		return decodeAs[ChangePassword](env)
	case TypeSignOut:
		return decodeAs[SignOut](env)
	case TypeReset:
		return decodeAs[Reset](env)
	case TypeGetData:
		return decodeAs[GetData](env)
	case TypeUpdatePreferences:
		return decodeAs[UpdatePreferences](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
}

func decodeAs[T Command](env *Envelope) (Command, error) {
	var cmd T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
		}
	}
	return cmd, nil
}

// Ack is the reply of commands that only succeed or not.
type Ack struct {
	OK bool `json:"ok"`
}

type RememberedPassword struct {
	HasRememberedPassword bool   `json:"hasRememberedPassword"`
	Password              string `json:"password,omitempty"`
}

type AuthState struct {
	State auth.State `json:"state"`
}

// Data is the decrypted view a client renders.
type Data struct {
	PullRequests   []models.PullRequest `json:"pullRequests"`
	LastUpdated    time.Time            `json:"lastUpdated,omitzero"`
	Login          string               `json:"login,omitempty"`
	Preferences    models.Preferences   `json:"preferences"`
	FirstRunNotify bool                 `json:"notifyOnFirstRun"`
	Badge          string               `json:"badge"`
}

type EventType string

const (
	EventAuthStateChanged EventType = "AUTH_STATE_CHANGED"
	EventDataUpdated      EventType = "DATA_UPDATED"
	EventShowError        EventType = "SHOW_ERROR"
	EventNotification     EventType = "NOTIFICATION"
)

// Event is a broadcast from the daemon to every subscribed client.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Title     string    `json:"title,omitempty"`
	State     string    `json:"state,omitempty"`
}
