package mdoc

import (
	"crypto/subtle"
	"fmt"

	"github.com/kokukuma/mdoc-proximity/pkg/hash"
)

func digest(data []byte, alg string) (Digest, error) {
	d, err := hash.Digest(data, alg)
	if err != nil {
		return nil, err
	}
	return Digest(d), nil
}

// VerifyDigests checks every disclosed item against the MSO value digests.
func VerifyDigests(issuerSigned *IssuerSigned, mso *MobileSecurityObject) error {
	for _, ns := range issuerSigned.GetNameSpaces() {
		for _, itemBytes := range issuerSigned.NameSpaces[ns] {
			item, err := itemBytes.IssuerSignedItem()
			if err != nil {
				return fmt.Errorf("failed to get IssuerSignedItem: %w", err)
			}

			expected, err := mso.GetDigest(ns, item.DigestID)
			if err != nil {
				return err
			}

			actual, err := itemBytes.Digest(mso.DigestAlgorithm)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare(expected, actual) != 1 {
				return &InvalidDigestError{
					NameSpace: ns,
					DigestID:  item.DigestID,
					Expected:  expected,
					Actual:    actual,
				}
			}
		}
	}
	return nil
}
