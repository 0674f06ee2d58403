package callsdk

// TransportDescriptor is the server side description of one WebRTC transport. It
// is used to open exactly one native transport, either send or receive.
type TransportDescriptor struct {
	Id             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Address    string `json:"address,omitempty"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	// alway "host"
	Type string `json:"type,omitempty"`
	// "passive" | ""
	TcpType string `json:"tcpType,omitempty"`
}

type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// DtlsFingerprint defines the hash function algorithm (as defined in the
// "Hash function Textual Names" registry initially specified in RFC 4572 Section 8)
// and its corresponding certificate fingerprint value.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsRole string

const (
	DtlsRole_Auto   DtlsRole = "auto"
	DtlsRole_Client DtlsRole = "client"
	DtlsRole_Server DtlsRole = "server"
)

// ConnectionState is the connection state of a native transport.
type ConnectionState string

const (
	ConnectionState_New          ConnectionState = "new"
	ConnectionState_Checking     ConnectionState = "checking"
	ConnectionState_Connected    ConnectionState = "connected"
	ConnectionState_Completed    ConnectionState = "completed"
	ConnectionState_Failed       ConnectionState = "failed"
	ConnectionState_Disconnected ConnectionState = "disconnected"
	ConnectionState_Closed       ConnectionState = "closed"
)

// NeedsIceRestart reports whether the state calls for an ICE restart.
func (s ConnectionState) NeedsIceRestart() bool {
	return s == ConnectionState_Disconnected || s == ConnectionState_Failed
}

// TransportDirection tells send and receive transports apart.
type TransportDirection string

const (
	TransportDirection_Send TransportDirection = "send"
	TransportDirection_Recv TransportDirection = "recv"
)

func (d TransportDescriptor) validate() error {
	if len(d.Id) == 0 {
		return NewTypeError("missing transport.id")
	}
	if len(d.IceParameters.UsernameFragment) == 0 || len(d.IceParameters.Password) == 0 {
		return NewTypeError("missing transport.iceParameters")
	}
	if len(d.DtlsParameters.Fingerprints) == 0 {
		return NewTypeError("missing transport.dtlsParameters.fingerprints")
	}
	return nil
}
