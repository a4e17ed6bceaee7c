package faceblade

import (
	"github.com/google/uuid"
)

// FaceNamespace scopes the name-based UUIDs derived from face crops.
var FaceNamespace = uuid.MustParse("6f0c2a0e-4f7d-5b1e-9a57-2f1f3b7c9d21")

// HashFace derives a stable face id from the crop bytes. Identical crops get
// identical ids, which is what makes registration idempotent.
func HashFace(crop []byte) (string, error) {
	if len(crop) == 0 {
		return "", ErrEmptyImage
	}

	return uuid.NewSHA1(FaceNamespace, crop).String(), nil
}
