package network

// Command-channel request kinds.
const (
	RequestConnect    = "connect"
	RequestKeyEvent   = "key_event"
	RequestMouseMove  = "mouse_move"
	RequestMouseWheel = "mouse_wheel"
	RequestData       = "data"
	RequestFling      = "fling"
	RequestPing       = "ping"
)

// Command-channel response kinds.
const (
	ResponseAck             = "ack"
	ResponseData            = "data"
	ResponseDataList        = "data_list"
	ResponseConnectResponse = "connect_response"
	ResponseFlingResult     = "fling_result"
)

// Key actions carried by key events.
const (
	ActionDown int32 = 0
	ActionUp   int32 = 1
)

// CommandVersion is the command protocol version sent in the connect hello.
const CommandVersion = 1

// Request is one client-to-device command-channel message.
type Request struct {
	Sequence uint32 `json:"seq"`
	Kind     string `json:"kind"`

	Keycode int32 `json:"keycode,omitempty"`
	Action  int32 `json:"action,omitempty"`

	DeltaX int32 `json:"dx,omitempty"`
	DeltaY int32 `json:"dy,omitempty"`

	DataType string `json:"data_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`

	DeviceName  string `json:"device_name,omitempty"`
	VersionCode int32  `json:"version_code,omitempty"`
}

// DataItem is one entry of a data list response.
type DataItem struct {
	Strings []string `json:"strings,omitempty"`
	Ints    []int32  `json:"ints,omitempty"`
}

// Response is one device-to-client command-channel message.
type Response struct {
	Sequence uint32 `json:"seq"`
	Kind     string `json:"kind"`

	DataType string     `json:"data_type,omitempty"`
	Data     string     `json:"data,omitempty"`
	Items    []DataItem `json:"items,omitempty"`

	Version int32 `json:"version,omitempty"`
	Result  bool  `json:"result,omitempty"`
}
