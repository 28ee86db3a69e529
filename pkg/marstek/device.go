package marstek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Device is a Marstek battery on the local network.
type Device struct {
	Addr      *net.UDPAddr
	Exchanger *Exchanger
}

// Response is the envelope of every Open API reply.
type Response struct {
	ID     int             `json:"id"`
	Src    string          `json:"src"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

// DeviceInfo is the result of Marstek.GetDevice.
type DeviceInfo struct {
	Device   string `json:"device"`
	Version  int    `json:"ver"`
	BLEMac   string `json:"ble_mac"`
	WifiMac  string `json:"wifi_mac"`
	WifiName string `json:"wifi_name"`
	IP       string `json:"ip"`
}

// BatteryStatus is the result of Bat.GetStatus.
type BatteryStatus struct {
	ID               int     `json:"id"`
	SOC              float64 `json:"soc"`
	ChargeAllowed    bool    `json:"charg_flag"`
	DischargeAllowed bool    `json:"dischrg_flag"`
	Temperature      float64 `json:"bat_temp"`
	Capacity         float64 `json:"bat_capacity"`
	RatedCapacity    float64 `json:"rated_capacity"`
}

func NewDevice(addr *net.UDPAddr, exchanger *Exchanger) *Device {
	return &Device{Addr: addr, Exchanger: exchanger}
}

// Info fetches the device identification.
func (d *Device) Info(ctx context.Context) (*DeviceInfo, error) {
	info := new(DeviceInfo)
	if err := d.call(ctx, GetDevice(AnyBLEMac), info); err != nil {
		return nil, err
	}
	return info, nil
}

// BatteryStatus fetches the state of the battery pack.
func (d *Device) BatteryStatus(ctx context.Context) (*BatteryStatus, error) {
	status := new(BatteryStatus)
	if err := d.call(ctx, ComponentStatus(MethodBatStatus, 0), status); err != nil {
		return nil, err
	}
	return status, nil
}

func (d *Device) call(ctx context.Context, req Request, out any) error {
	if d.Addr == nil {
		return errors.New("device address is nil")
	}

	res, err := d.Exchanger.Exchange(ctx, d.Addr, req, true)
	if err != nil {
		return errors.Wrapf(err, "calling %s", req.Method)
	}

	// The device can emit unrelated packets, use the first one that decodes.
	var lastErr error = ErrNoReply
	for _, packet := range res.Packets {
		resp, err := DecodeResponse(packet)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Error != nil {
			return errors.Wrapf(resp.Error, "calling %s", req.Method)
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errors.Wrapf(err, "decoding %s result", req.Method)
		}
		return nil
	}

	return errors.Wrapf(lastErr, "calling %s", req.Method)
}

// DecodeResponse parses a reply packet into its envelope.
func DecodeResponse(packet []byte) (*Response, error) {
	resp := new(Response)
	if err := json.Unmarshal(packet, resp); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}
	if resp.Error == nil && (len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null"))) {
		return nil, errors.New("response has neither result nor error")
	}
	return resp, nil
}
