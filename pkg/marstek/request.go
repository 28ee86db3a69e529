package marstek

// Request is a call to the device's Open API.
type Request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type (
	// DeviceParams are the parameters of Marstek.GetDevice.
	DeviceParams struct {
		BLEMac string `json:"ble_mac"`
	}

	// ComponentParams address one component of a device.
	ComponentParams struct {
		ID int `json:"id"`
	}
)

const (
	MethodGetDevice  = "Marstek.GetDevice"
	MethodWifiStatus = "Wifi.GetStatus"
	MethodBLEStatus  = "BLE.GetStatus"
	MethodBatStatus  = "Bat.GetStatus"
	MethodPVStatus   = "PV.GetStatus"
	MethodESStatus   = "ES.GetStatus"
	MethodESMode     = "ES.GetMode"

	// Any device answers Marstek.GetDevice for this MAC.
	AnyBLEMac = "0"
)

func GetDevice(bleMac string) Request {
	return Request{ID: 0, Method: MethodGetDevice, Params: DeviceParams{BLEMac: bleMac}}
}

// ComponentStatus builds one of the status queries that take a component id,
// such as Wifi.GetStatus or ES.GetMode.
func ComponentStatus(method string, id int) Request {
	return Request{ID: 1, Method: method, Params: ComponentParams{ID: id}}
}

// Placeholder builds the single key/value probe used when exploring firmware
// that does not speak the Open API.
func Placeholder(key, value string) map[string]string {
	return map[string]string{key: value}
}

// Query is a named status query available on the command line.
type Query struct {
	Name    string
	Aliases []string
	Method  string
	Usage   string
}

// StatusQueries are the component status queries, in the order all-status
// runs them after Marstek.GetDevice.
var StatusQueries = []Query{
	{Name: "wifi-status", Aliases: []string{"wi-status"}, Method: MethodWifiStatus, Usage: "Send Wifi.GetStatus request"},
	{Name: "ble-status", Method: MethodBLEStatus, Usage: "Send BLE.GetStatus request"},
	{Name: "bat-status", Method: MethodBatStatus, Usage: "Send Bat.GetStatus request"},
	{Name: "pv-status", Method: MethodPVStatus, Usage: "Send PV.GetStatus request"},
	{Name: "es-status", Method: MethodESStatus, Usage: "Send ES.GetStatus request"},
	{Name: "es-mode", Method: MethodESMode, Usage: "Send ES.GetMode request"},
}

// AllStatus returns every device query with default parameters.
func AllStatus() []Request {
	reqs := []Request{GetDevice(AnyBLEMac)}
	for _, q := range StatusQueries {
		reqs = append(reqs, ComponentStatus(q.Method, 0))
	}
	return reqs
}
