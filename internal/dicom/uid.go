package dicom

import (
	"math/big"

	"github.com/twinj/uuid"
)

// Well-known UIDs used in generated files.
const (
	// CTImageStorage is the SOP class written when the request names none.
	CTImageStorage = "1.2.840.10008.5.1.4.1.1.2"
	// ExplicitVRLittleEndian is the transfer syntax of every generated file.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	// ImplementationClassUID identifies dicomcraft as the writer.
	ImplementationClassUID = "1.2.826.0.1.3680043.8.498.1"
	// ImplementationName is written as ImplementationVersionName and as the
	// source application entity title.
	ImplementationName = "DICOMCRAFT"
)

// NewUID returns a random UID under the 2.25 root (ISO/IEC 9834-8), which
// encodes a UUID as a single decimal integer.
func NewUID() string {
	n := new(big.Int).SetBytes(uuid.NewV4().Bytes())
	return "2.25." + n.String()
}
