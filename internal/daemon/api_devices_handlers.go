package daemon

import (
	"net/http"
	"sort"

	"locsim/internal/logging"
	"locsim/internal/types"
)

func (a *API) DeviceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	seen := map[string]struct{}{}
	for _, id := range a.Devices.Devices() {
		seen[id] = struct{}{}
	}
	for _, id := range a.Movement.Devices() {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	resp := DevicesResponse{Devices: make([]types.DeviceStatus, 0, len(ids))}
	for _, id := range ids {
		resp.Devices = append(resp.Devices, a.deviceStatus(id))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) DeviceByID(w http.ResponseWriter, r *http.Request) {
	id, rest := devicePath(r)
	if id == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, a.deviceStatus(id))
		return
	}

	switch rest[0] {
	case "location":
		a.location(w, r, id)
	case "disconnect":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		if err := a.Devices.Disconnect(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "cruise":
		a.startCruise(w, r, id)
	case "route":
		a.startRoute(w, r, id)
	case "movement":
		a.movement(w, r, id, rest[1:])
	case "tunnel":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		if a.Tunnels == nil {
			writeServiceError(w, unavailableError("tunnel status not available", nil))
			return
		}
		writeJSON(w, http.StatusOK, a.Tunnels.Status(id))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (a *API) location(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		coord, ok := a.Devices.LastKnown(id)
		if !ok {
			writeServiceError(w, notFoundError("no known location", nil))
			return
		}
		writeJSON(w, http.StatusOK, LocationResponse{DeviceID: id, Latitude: coord.Latitude, Longitude: coord.Longitude})
	case http.MethodPut:
		var req LocationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		coord, err := req.coordinate()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		// A direct set replaces any running movement.
		if err := a.Movement.Stop(r.Context(), id); err != nil {
			a.logger().Warn("movement_stop_failed", logging.Device(id), logging.Err(err))
		}
		if err := a.Devices.SetLocation(r.Context(), id, coord); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, LocationResponse{DeviceID: id, Latitude: coord.Latitude, Longitude: coord.Longitude})
	case http.MethodDelete:
		if err := a.Devices.ClearLocation(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) startCruise(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req CruiseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Target == nil {
		writeServiceError(w, invalidError("target is required", nil))
		return
	}
	snap, err := a.Movement.StartCruise(r.Context(), id, req.Start, *req.Target, req.SpeedKmh)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) startRoute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req RouteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	snap, err := a.Movement.StartRoute(r.Context(), id, req.Waypoints, req.SpeedKmh, req.Loop)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) movement(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			snap, ok := a.Movement.Status(id)
			if !ok {
				writeServiceError(w, notFoundError("no active movement", nil))
				return
			}
			writeJSON(w, http.StatusOK, snap)
		case http.MethodPatch:
			var req SpeedRequest
			if err := decodeJSON(r, &req); err != nil {
				writeServiceError(w, err)
				return
			}
			snap, err := a.Movement.SetSpeed(id, req.SpeedKmh)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var (
		snap types.MovementSnapshot
		err  error
	)
	switch rest[0] {
	case "pause":
		snap, err = a.Movement.Pause(id)
	case "resume":
		snap, err = a.Movement.Resume(id)
	case "stop":
		if err := a.Movement.Stop(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) deviceStatus(id string) types.DeviceStatus {
	status := a.Devices.Status(id)
	if snap, ok := a.Movement.Status(id); ok {
		snap.Waypoints = nil
		snap.Segments = nil
		status.Movement = &snap
	}
	return status
}
