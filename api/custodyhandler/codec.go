package custodyhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

var errEmptyBody = errors.New("request body is empty")

func isCBOR(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == ContentTypeCBOR
}

// responseIsCBOR reports whether the reply should be CBOR: when asked for
// explicitly or when the request itself was CBOR.
func responseIsCBOR(r *http.Request) bool {
	if accept := r.Header.Get("Accept"); accept != "" {
		for _, part := range strings.Split(accept, ",") {
			if isCBOR(strings.TrimSpace(part)) {
				return true
			}
		}
		return false
	}
	return isCBOR(r.Header.Get("Content-Type"))
}

// decodeBody reads at most limit bytes of the request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errEmptyBody
	}

	if isCBOR(r.Header.Get("Content-Type")) {
		if err := cbor.Unmarshal(body, v); err != nil {
			return fmt.Errorf("invalid cbor body: %w", err)
		}
		return nil
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) error {
	var (
		body        []byte
		contentType string
		err         error
	)
	if responseIsCBOR(r) {
		body, err = cbor.Marshal(v)
		contentType = ContentTypeCBOR
	} else {
		body, err = json.Marshal(v)
		contentType = ContentTypeJSON
	}
	if err != nil {
		http.Error(w, fmt.Errorf("could not encode response: %w", err).Error(), http.StatusInternalServerError)
		return err
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
