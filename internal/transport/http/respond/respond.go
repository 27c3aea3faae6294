package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "domainpay/pkg/errors"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JSON writes v with the given status. Encoding failures are ignored; the
// status line is already on the wire.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error writes the JSON error envelope for a coded error. Internal errors are
// masked; their detail belongs in logs, not responses.
func Error(w http.ResponseWriter, err error) {
	code := pkgerrors.CodeOf(err)
	var body errorBody
	body.Error.Code = string(code)
	if code == pkgerrors.CodeInternal {
		body.Error.Message = "internal error"
	} else {
		var gw pkgerrors.GatewayError
		if errors.As(err, &gw) {
			body.Error.Message = gw.Message
		} else {
			body.Error.Message = err.Error()
		}
	}
	JSON(w, pkgerrors.ToHTTPStatus(code), body)
}
