package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// detailErrorBody matches the authentication failure shape mandated for the
// control plane and simulated-operation routes: {"detail":"..."}.
func detailErrorBody(detail string) any {
	return struct {
		Detail string `json:"detail"`
	}{Detail: detail}
}

// codeErrorBody matches the {"error":{"code","message"}} shape used by
// generic control-plane errors (distinct from the simulator pipeline's own
// error shapes in internal/simulator, which it formats itself).
func codeErrorBody(code, message string) any {
	return struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{Error: struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}}
}
