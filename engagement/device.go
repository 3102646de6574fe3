package engagement

import "crypto/ecdh"

// DeviceEngagement is the holder's engagement. The holder acts as BLE
// central client.
type DeviceEngagement struct {
	engagement
}

func CreateDeviceEngagement(devicePublicKey *ecdh.PublicKey) (*DeviceEngagement, error) {
	if devicePublicKey == nil {
		return nil, ErrInvalidKey
	}
	e, err := newEngagement(devicePublicKey, centralClientMethod(devicePublicKey))
	if err != nil {
		return nil, err
	}
	return &DeviceEngagement{engagement: e}, nil
}

func ParseDeviceEngagement(data []byte) (*DeviceEngagement, error) {
	e, err := parseEngagement(data)
	if err != nil {
		return nil, err
	}
	return &DeviceEngagement{engagement: e}, nil
}

// EDeviceKeyBytes returns #6.24(COSE_Key) of the device ephemeral key.
func (d *DeviceEngagement) EDeviceKeyBytes() ([]byte, error) {
	return d.Security().TaggedKeyBytes()
}
