package worker

import (
	"fmt"
	"time"

	"github.com/vfsio/workerkit/internal/protocol/wire"
)

// Sync-request primitives: a handler mid-command sends a request message
// and blocks on a narrow receive for the matching answer. Only the
// expected answer commands, metadata pushes and no-ops are accepted while
// waiting; anything else is a protocol violation because the job must not
// start a new operation while one is in flight.

// waitForAnswer blocks until one of the expected commands arrives.
// Metadata pushes are merged into the incoming map and the wait continues;
// no-ops are skipped. The wait is bounded by the response timeout.
func (w *Worker) waitForAnswer(expected ...wire.Cmd) (wire.Cmd, []byte, error) {
	prev := w.state
	w.state = StateAwaitingReply
	defer func() { w.state = prev }()

	if err := w.conn.SetReadDeadline(time.Now().Add(w.ResponseTimeout())); err != nil {
		return 0, nil, err
	}
	defer w.conn.SetReadDeadline(time.Time{})

	for {
		cmd, payload, err := w.conn.Receive()
		if err != nil {
			if wire.IsTimeout(err) {
				return 0, nil, wire.NewError(wire.ErrConnectionBroken,
					fmt.Sprintf("timed out waiting for %s", expected[0]))
			}
			return 0, nil, err
		}

		switch cmd {
		case wire.CmdNone:
			continue
		case wire.CmdMetaData:
			if err := w.mergeIncomingMetaData(payload); err != nil {
				return 0, nil, err
			}
			continue
		}

		for _, want := range expected {
			if cmd == want {
				return cmd, payload, nil
			}
		}
		return 0, nil, &wire.ProtocolError{Cmd: cmd,
			Reason: fmt.Sprintf("unexpected command while waiting for %s", expected[0])}
	}
}

func (w *Worker) mergeIncomingMetaData(payload []byte) error {
	m, err := wire.DecodeMetaData(payload)
	if err != nil {
		return err
	}
	for k, v := range m {
		w.incoming[k] = v
	}
	return nil
}

// ReadData requests and returns the next chunk of upload content from the
// job. An empty chunk marks end of stream; the handler finalizes the
// destination on seeing it.
func (w *Worker) ReadData() ([]byte, error) {
	if err := w.DataReq(); err != nil {
		return nil, err
	}
	_, payload, err := w.waitForAnswer(wire.CmdData)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Message box types. The numeric values are part of the request payload.
type MessageBoxType int32

const (
	QuestionTwoActions       MessageBoxType = 1
	WarningTwoActions        MessageBoxType = 2
	WarningContinueCancel    MessageBoxType = 3
	WarningTwoActionsCancel  MessageBoxType = 4
	Information              MessageBoxType = 5
	QuestionTwoActionsCancel MessageBoxType = 6
)

// Message box answers.
type MessageBoxButton int32

const (
	ButtonOk              MessageBoxButton = 1
	ButtonCancel          MessageBoxButton = 2
	ButtonPrimaryAction   MessageBoxButton = 3
	ButtonSecondaryAction MessageBoxButton = 4
	ButtonContinue        MessageBoxButton = 5
)

// MessageBoxOptions carries the optional texts of a message box request.
// Empty fields let the job side pick its defaults.
type MessageBoxOptions struct {
	Caption          string
	ButtonYes        string
	ButtonNo         string
	DontAskAgainName string
}

// MessageBox poses a question to the user through the job side and blocks
// for the chosen button.
func (w *Worker) MessageBox(t MessageBoxType, text string, opts MessageBoxOptions) (MessageBoxButton, error) {
	err := w.sendMarshal(wire.InfMessageBox, wire.MessageBoxArgs{
		Type:             int32(t),
		Text:             text,
		Caption:          opts.Caption,
		ButtonYes:        opts.ButtonYes,
		ButtonNo:         opts.ButtonNo,
		DontAskAgainName: opts.DontAskAgainName,
	})
	if err != nil {
		return 0, err
	}
	_, payload, err := w.waitForAnswer(wire.CmdMessageBoxAnswer)
	if err != nil {
		return 0, err
	}
	var answer wire.MessageBoxAnswerArgs
	if err := wire.Unmarshal(payload, &answer); err != nil {
		return 0, err
	}
	return MessageBoxButton(answer.Button), nil
}

// OfferResume offers to append to a partial destination at offset and
// blocks for the job's decision. Used by put when it finds a partial file
// and the resume flag is set.
func (w *Worker) OfferResume(offset uint64) (bool, error) {
	if err := w.sendMarshal(wire.MsgResume, wire.ResumeOfferArgs{Offset: offset}); err != nil {
		return false, err
	}
	_, payload, err := w.waitForAnswer(wire.CmdResumeAnswer)
	if err != nil {
		return false, err
	}
	var answer wire.ResumeAnswerArgs
	if err := wire.Unmarshal(payload, &answer); err != nil {
		return false, err
	}
	return answer.CanResume, nil
}

// AuthInfo describes one credential request or answer.
type AuthInfo struct {
	URL      string
	Username string
	Password string
	Prompt   string
	Realm    string

	// KeepPassword asks for the credential to outlive the session when
	// cached.
	KeepPassword bool
}

// CredentialBroker answers authentication requests on behalf of the
// worker. Implementations may prompt the user, consult a persistent
// store, or both.
type CredentialBroker interface {
	// QueryCredentials obtains credentials for the request, prompting if
	// necessary. Returns ErrUserCanceled as a wire error when the user
	// declines.
	QueryCredentials(info AuthInfo) (AuthInfo, error)

	// CheckCached looks up previously stored credentials matching the
	// request without prompting.
	CheckCached(info AuthInfo) (AuthInfo, bool)

	// Cache stores verified credentials for later CheckCached calls.
	Cache(info AuthInfo) error
}

func (w *Worker) requireBroker() error {
	if w.broker == nil {
		return wire.NewError(wire.ErrCannotAuthenticate, "no credential broker configured")
	}
	return nil
}

// OpenPasswordDialog asks the broker for credentials, prompting the user
// if nothing is cached.
func (w *Worker) OpenPasswordDialog(info AuthInfo) (AuthInfo, error) {
	if err := w.requireBroker(); err != nil {
		return info, err
	}
	return w.broker.QueryCredentials(info)
}

// CheckCachedAuthentication looks up stored credentials without prompting.
func (w *Worker) CheckCachedAuthentication(info AuthInfo) (AuthInfo, bool) {
	if w.broker == nil {
		return info, false
	}
	return w.broker.CheckCached(info)
}

// CacheAuthentication stores credentials that were verified to work.
func (w *Worker) CacheAuthentication(info AuthInfo) error {
	if err := w.requireBroker(); err != nil {
		return err
	}
	return w.broker.Cache(info)
}

// PrivilegeOperationStatus is the job's verdict on a privilege request.
type PrivilegeOperationStatus int32

const (
	OperationAllowed    PrivilegeOperationStatus = 1
	OperationCanceled   PrivilegeOperationStatus = 2
	OperationNotAllowed PrivilegeOperationStatus = 3
)

// RequestPrivilegeOperation asks the job side to approve an operation that
// needs elevated rights. A temporary authorization granted earlier in this
// worker's life short-circuits the round trip.
func (w *Worker) RequestPrivilegeOperation(details string) (PrivilegeOperationStatus, error) {
	if w.HasTemporaryAuthorization(details) {
		return OperationAllowed, nil
	}
	if err := w.sendMarshal(wire.MsgPrivilegeRequest, wire.PrivilegeRequestArgs{Details: details}); err != nil {
		return 0, err
	}
	_, payload, err := w.waitForAnswer(wire.CmdPrivilegeAnswer)
	if err != nil {
		return 0, err
	}
	var answer wire.PrivilegeAnswerArgs
	if err := wire.Unmarshal(payload, &answer); err != nil {
		return 0, err
	}
	return PrivilegeOperationStatus(answer.Status), nil
}

// HostInfo is a resolved host lookup.
type HostInfo struct {
	Hostname  string
	Addresses []string
}

// LookupHost asks the job side to resolve hostname. The answer arrives
// later through WaitForHostInfo; splitting the two lets a handler overlap
// resolution with other work.
func (w *Worker) LookupHost(hostname string) error {
	return w.sendMarshal(wire.MsgHostInfoReq, struct{ Hostname string }{hostname})
}

// WaitForHostInfo blocks for the answer to an earlier LookupHost.
func (w *Worker) WaitForHostInfo() (HostInfo, error) {
	_, payload, err := w.waitForAnswer(wire.CmdHostInfo)
	if err != nil {
		return HostInfo{}, err
	}
	var args wire.HostInfoArgs
	if err := wire.Unmarshal(payload, &args); err != nil {
		return HostInfo{}, err
	}
	if args.ErrorCode != 0 {
		return HostInfo{}, wire.NewError(wire.ErrorCode(args.ErrorCode), args.Hostname)
	}
	return HostInfo{Hostname: args.Hostname, Addresses: args.Addresses}, nil
}
