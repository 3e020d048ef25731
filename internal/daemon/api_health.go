package daemon

import (
	"net/http"
	"os"
)

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":      true,
		"version": a.Version,
		"pid":     os.Getpid(),
	}
	if a.Events != nil {
		resp["events"] = a.Events.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
