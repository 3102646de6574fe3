package mdoc

import (
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/kokukuma/mdoc-proximity/pkg/cborutil"
)

const DeviceRequestVersion = "1.0"

type DeviceRequest struct {
	Version     string       `json:"version"`
	DocRequests []DocRequest `json:"docRequests"`
}

type DocRequest struct {
	ItemsRequest ItemsRequestBytes          `json:"itemsRequest"`
	ReaderAuth   *cose.UntaggedSign1Message `json:"readerAuth,omitempty"`
}

// ItemsRequestBytes is #6.24(bstr .cbor ItemsRequest).
type ItemsRequestBytes = cborutil.TaggedCBOR

type ItemsRequest struct {
	DocType     DocType                    `json:"docType"`
	NameSpaces  map[NameSpace]DataElements `json:"nameSpaces"`
	RequestInfo map[string]interface{}     `json:"requestInfo,omitempty"`
}

// DataElements maps each requested element to the intent to retain it.
type DataElements map[ElementIdentifier]bool

func NewDocRequest(items ItemsRequest) (*DocRequest, error) {
	if items.DocType == "" {
		return nil, fmt.Errorf("docType is required")
	}
	if len(items.NameSpaces) == 0 {
		return nil, fmt.Errorf("at least one namespace is required")
	}
	encoded, err := cborutil.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal items request: %w", err)
	}
	return &DocRequest{ItemsRequest: encoded}, nil
}

func (r *DocRequest) Items() (*ItemsRequest, error) {
	var items ItemsRequest
	if err := cborutil.Unmarshal(r.ItemsRequest, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items request: %w", err)
	}
	return &items, nil
}

func NewDeviceRequest(docRequests ...DocRequest) *DeviceRequest {
	return &DeviceRequest{Version: DeviceRequestVersion, DocRequests: docRequests}
}

func (d *DeviceRequest) Encode() ([]byte, error) {
	return cborutil.Marshal(d)
}

func DecodeDeviceRequest(data []byte) (*DeviceRequest, error) {
	var req DeviceRequest
	if err := cborutil.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device request: %w", err)
	}
	if len(req.DocRequests) == 0 {
		return nil, fmt.Errorf("device request has no docRequests")
	}
	return &req, nil
}
