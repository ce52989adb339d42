package wire

import "encoding/json"

// Record tags exchanged over an authenticated connection. Client-to-server
// tags are routed by the dispatcher; server-to-client tags are emitted by
// handlers and sweepers.
const (
	TypeRegister           = "register"
	TypeLogin              = "login"
	TypeLogout             = "logout"
	TypeAuthResponse       = "auth_response"
	TypeGetUserList        = "get_user_list"
	TypeUserListUpdate     = "user_list_update"
	TypeClientInfo         = "client_info"
	TypeClientInfoAck      = "client_info_ack"
	TypeHeartbeat          = "heartbeat"
	TypeHeartbeatAck       = "heartbeat_ack"
	TypeP2PMessage         = "p2p_message"
	TypeMessageStatus      = "message_status"
	TypeCallRequest        = "call_request"
	TypeCallResponse       = "call_response"
	TypeCallAnswer         = "call_answer"
	TypeCallAnswerResponse = "call_answer_response"
	TypeCallAccepted       = "call_accepted"
	TypeCallRejected       = "call_rejected"
	TypeCallEnd            = "call_end"
	TypeCallEndResponse    = "call_end_response"
	TypeCallEnded          = "call_ended"
	TypeICECandidate       = "ice_candidate"
	TypeICEResponse        = "ice_candidate_response"
	TypeServerStatus       = "server_status"
	TypeError              = "error"
)

// Status values carried in tag-specific status fields.
const (
	StatusSuccess      = "success"
	StatusError        = "error"
	StatusDelivered    = "delivered"
	StatusFailed       = "failed"
	StatusUserOffline  = "user_offline"
	StatusUserBusy     = "user_busy"
	StatusRinging      = "ringing"
	StatusAccepted     = "accepted"
	StatusRejected     = "rejected"
	StatusEnded        = "ended"
	StatusAlreadyEnded = "already_ended"
	StatusCallNotFound = "call_not_found"
	StatusSent         = "sent"
)

// Call answer values.
const (
	AnswerAccept = "accept"
	AnswerReject = "reject"
)

// UserInfo is one roster entry in a user_list_update.
type UserInfo struct {
	Username   string `json:"username"`
	P2PPort    int    `json:"p2p_port"`
	ExternalIP string `json:"external_ip"`
	LastSeen   string `json:"last_seen"`
}

// Record is the unit exchanged as one frame: a tagged dictionary with a
// mandatory type and tag-specific fields. A single flat struct keeps the
// codec trivial; omitempty drops the fields a given tag does not use.
// Unknown keys on the wire are ignored by encoding/json.
type Record struct {
	Type string `json:"type"`

	// Shared status/detail fields. Message doubles as the text body of a
	// p2p_message and the human-readable note on responses, matching the
	// wire format.
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`

	// Auth.
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Email        string `json:"email,omitempty"`
	SessionToken string `json:"session_token,omitempty"`

	// Peer-reach hints.
	P2PPort    int    `json:"p2p_port,omitempty"`
	ExternalIP string `json:"external_ip,omitempty"`

	// Roster.
	Users []UserInfo `json:"users,omitempty"`

	// Messaging.
	To        string `json:"to,omitempty"`
	From      string `json:"from,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// Calls.
	CallID   string `json:"call_id,omitempty"`
	CallType string `json:"call_type,omitempty"`
	Answer   string `json:"answer,omitempty"`
	CallPort *int   `json:"call_port,omitempty"`
	Duration *int   `json:"duration,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// ICE pass-through.
	Candidate  string `json:"candidate,omitempty"`
	TargetUser string `json:"target_user,omitempty"`
	FromUser   string `json:"from_user,omitempty"`

	// server_status diagnostics.
	OnlineUsers *int     `json:"online_users,omitempty"`
	ActiveCalls *int     `json:"active_calls,omitempty"`
	UserNames   []string `json:"user_names,omitempty"`
	CallIDs     []string `json:"calls,omitempty"`
}

// Encode serializes the record to its JSON wire form.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a JSON payload into a Record. The type tag must be
// present; anything else is tag-specific and validated by the handler.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ErrorRecord builds the generic error reply.
func ErrorRecord(msg string) *Record {
	return &Record{Type: TypeError, Message: msg}
}

// IntPtr is a convenience for the optional numeric fields.
func IntPtr(v int) *int { return &v }
